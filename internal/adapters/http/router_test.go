package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Cast/internal/app"
	"github.com/dkeye/Cast/internal/app/orch"
	"github.com/dkeye/Cast/internal/config"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:         "test",
		Port:         8080,
		ReadLimit:    32768,
		PingPeriod:   time.Second,
		WriteWait:    time.Second,
		Secret:       "test-secret",
		SendBuffer:   16,
		CodeAttempts: 8,
		SignalRate:   config.RateLimit{Limit: 100, Interval: time.Second},
		ICEServers:   []config.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}
}

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	return newServerWith(t, testConfig())
}

func newServerWith(t *testing.T, cfg *config.Config) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	o := orch.New(8, app.SimplePolicy{})
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o))
	t.Cleanup(srv.Close)
	return srv, o
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func createSession(t *testing.T, base string, kind string) domain.Session {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/sessions", map[string]string{"session_type": kind})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var s domain.Session
	require.NoError(t, json.Unmarshal(body, &s))
	return s
}

func TestSessionRESTLifecycle(t *testing.T) {
	srv, _ := newServer(t)
	s := createSession(t, srv.URL, "text")
	assert.True(t, s.Code.Valid())
	assert.Equal(t, domain.KindText, s.Kind)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+strings.ToLower(string(s.Code)), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.Session
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, s.ID, got.ID)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+string(s.ID)+"/messages", map[string]string{"username": "ann", "message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var m domain.Message
	require.NoError(t, json.Unmarshal(body, &m))
	assert.EqualValues(t, 1, m.ID)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+string(s.ID)+"/messages", map[string]string{"username": "ann", "body": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+string(s.ID)+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)

	for range 2 {
		resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/"+string(s.Code), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"message":"Session closed"}`, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+string(s.Code), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"detail":"Session not found"}`, string(body))
}

func TestCreateSessionRejectsBadKind(t *testing.T) {
	srv, _ := newServer(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]string{"kind": "video"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestICEServersAndHealth(t *testing.T) {
	srv, _ := newServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/ice-servers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ice_servers":[{"urls":["stun:stun.example.org:3478"]}]}`, string(body))

	createSession(t, srv.URL, "stream")
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","sessions":1,"channels":0,"relays":0,"logs":0}`, string(body))
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func write(t *testing.T, ws *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, protocol.MustEncode(env)))
}

func TestTextChannel(t *testing.T) {
	srv, o := newServer(t)
	s := createSession(t, srv.URL, "text")
	_, err := o.PostMessage(s.ID, "ann", "before")
	require.NoError(t, err)

	ws := dial(t, srv, "/ws/text/"+string(s.ID))
	env := read(t, ws)
	require.Equal(t, protocol.TypeHistory, env.Type)
	require.Len(t, env.Messages, 1)
	assert.Equal(t, "before", env.Messages[0].Body)

	write(t, ws, protocol.Envelope{Type: protocol.TypePing})
	assert.Equal(t, protocol.TypePong, read(t, ws).Type)

	write(t, ws, protocol.Post("bob", "live"))
	env = read(t, ws)
	require.Equal(t, protocol.TypeMessage, env.Type)
	assert.Equal(t, "live", env.Data.Body)
	assert.EqualValues(t, 2, env.Data.ID)

	write(t, ws, protocol.Post("bob", ""))
	assert.Equal(t, protocol.TypeError, read(t, ws).Type)

	o.CloseSession(string(s.Code))
	assert.Equal(t, protocol.TypeSessionClosed, read(t, ws).Type)
}

func TestWebsocketUnknownSession(t *testing.T) {
	srv, _ := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/text/NOPE00"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s := createSession(t, srv.URL, "stream")
	url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stream/" + string(s.Code) + "/spectator"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamRelayOverWebsocket(t *testing.T) {
	srv, o := newServer(t)
	s := createSession(t, srv.URL, "stream")

	b := dial(t, srv, "/ws/stream/"+string(s.Code)+"/broadcaster")
	v := dial(t, srv, "/ws/stream/"+string(s.Code)+"/viewer")

	write(t, v, protocol.ViewerJoined("v1"))
	env := read(t, b)
	require.Equal(t, protocol.TypeViewerJoined, env.Type)
	assert.EqualValues(t, "v1", env.ViewerID)

	write(t, b, protocol.Offer("v1", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))
	env = read(t, v)
	require.Equal(t, protocol.TypeOffer, env.Type)
	assert.Equal(t, "v=0", env.Offer.SDP)

	write(t, v, protocol.Answer("", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}))
	env = read(t, b)
	require.Equal(t, protocol.TypeAnswer, env.Type)
	assert.EqualValues(t, "v1", env.ViewerID)

	require.NoError(t, v.Close())
	env = read(t, b)
	assert.Equal(t, protocol.TypeViewerLeft, env.Type)
	assert.EqualValues(t, "v1", env.ViewerID)

	assert.Eventually(t, func() bool { return o.Relay.State(s.ID) == app.StateBroadcasterOnly }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionStats(t *testing.T) {
	srv, _ := newServer(t)
	s := createSession(t, srv.URL, "stream")

	b := dial(t, srv, "/ws/stream/"+string(s.Code)+"/broadcaster")
	v := dial(t, srv, "/ws/stream/"+string(s.Code)+"/viewer")
	write(t, v, protocol.ViewerJoined("v1"))
	require.Equal(t, protocol.TypeViewerJoined, read(t, b).Type)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+string(s.Code)+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var st orch.SessionStats
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, s.ID, st.Session.ID)
	assert.Equal(t, 2, st.Channels)
	assert.Equal(t, "live", st.Relay)
	assert.Equal(t, 1, st.Viewers)

	text := createSession(t, srv.URL, "text")
	dial(t, srv, "/ws/text/"+string(text.ID))
	assert.Eventually(t, func() bool {
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+string(text.ID)+"/stats", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var st orch.SessionStats
		return json.Unmarshal(body, &st) == nil && st.Subscribers == 1 && st.Channels == 1 && st.Relay == ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/NOPE00/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNegotiationIsNotRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.SignalRate = config.RateLimit{Limit: 5, Interval: time.Minute}
	srv, _ := newServerWith(t, cfg)
	s := createSession(t, srv.URL, "stream")

	const viewers, candidates = 10, 5
	b := dial(t, srv, "/ws/stream/"+string(s.Code)+"/broadcaster")
	vs := make([]*websocket.Conn, viewers)
	for i := range vs {
		vs[i] = dial(t, srv, "/ws/stream/"+string(s.Code)+"/viewer")
		write(t, vs[i], protocol.ViewerJoined(domain.ViewerID(fmt.Sprintf("v%d", i))))
		require.Equal(t, protocol.TypeViewerJoined, read(t, b).Type)
	}

	for i := range vs {
		id := domain.ViewerID(fmt.Sprintf("v%d", i))
		write(t, b, protocol.Offer(id, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))
		for j := range candidates {
			write(t, b, protocol.ICECandidate(id, webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 1 10.0.0.1 %d typ host", j, 5000+j)}))
		}
	}

	for i, v := range vs {
		env := read(t, v)
		require.Equal(t, protocol.TypeOffer, env.Type, "viewer %d", i)
		for j := range candidates {
			env = read(t, v)
			require.Equal(t, protocol.TypeICECandidate, env.Type, "viewer %d candidate %d", i, j)
			assert.Contains(t, env.ICECandidate.Candidate, fmt.Sprintf("candidate:%d ", j))
		}
		write(t, v, protocol.Answer("", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}))
		env = read(t, b)
		require.Equal(t, protocol.TypeAnswer, env.Type)
		assert.EqualValues(t, fmt.Sprintf("v%d", i), env.ViewerID)
	}

	// Control traffic is still limited.
	for range cfg.SignalRate.Limit {
		write(t, b, protocol.Envelope{Type: protocol.TypePing})
		require.Equal(t, protocol.TypePong, read(t, b).Type)
	}
	write(t, b, protocol.Envelope{Type: protocol.TypePing})
	env := read(t, b)
	require.Equal(t, protocol.TypeError, env.Type)
	assert.Equal(t, "rate limited", env.Error)
}
