package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Cast/internal/config"
	"github.com/dkeye/Cast/internal/domain"
)

// api is the REST half of the server surface.
type api struct {
	base *url.URL
	hc   *http.Client
}

func newAPI(server string) (*api, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", server)
	}
	return &api{base: u, hc: &http.Client{Timeout: 10 * time.Second}}, nil
}

// wsURL maps an API path onto the websocket scheme of the same host.
func (a *api) wsURL(path string) string {
	u := *a.base
	u.Scheme = "ws"
	if a.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = path
	return u.String()
}

func (a *api) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	u := *a.base
	u.Path = path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), &body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
		case http.StatusBadRequest:
			return fmt.Errorf("%s %s: %s: %w", method, path, e.Detail, domain.ErrInvalidInput)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Detail)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *api) createSession(ctx context.Context, kind domain.SessionKind) (domain.Session, error) {
	var s domain.Session
	err := a.do(ctx, http.MethodPost, "/api/sessions", map[string]string{"kind": string(kind)}, &s)
	return s, err
}

func (a *api) session(ctx context.Context, key string) (domain.Session, error) {
	var s domain.Session
	err := a.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(key), nil, &s)
	return s, err
}

func (a *api) closeSession(ctx context.Context, code domain.Code) error {
	return a.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(string(code)), nil, nil)
}

func (a *api) iceServers(ctx context.Context) ([]config.ICEServer, error) {
	var out struct {
		ICEServers []config.ICEServer `json:"ice_servers"`
	}
	err := a.do(ctx, http.MethodGet, "/api/ice-servers", nil, &out)
	return out.ICEServers, err
}
