package app

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/rs/zerolog/log"
)

// textLog is the append-only log and subscriber set of one text session.
// Its mutex is the single writer that orders fan-out.
type textLog struct {
	mu     sync.Mutex
	lastID uint64
	msgs   []domain.Message
	subs   map[core.SignalConnection]struct{}
	closed bool
}

// MessageService stores chat messages and fans them out to attached channels.
type MessageService struct {
	mu     sync.RWMutex
	logs   map[domain.SessionID]*textLog
	policy Policy
	now    func() time.Time
}

func NewMessageService(policy Policy) *MessageService {
	return &MessageService{
		logs:   make(map[domain.SessionID]*textLog),
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MessageService) getOrCreate(sid domain.SessionID) *textLog {
	s.mu.RLock()
	l, ok := s.logs[sid]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[sid]; ok {
		return l
	}
	l = &textLog{subs: make(map[core.SignalConnection]struct{})}
	s.logs[sid] = l
	return l
}

func (s *MessageService) get(sid domain.SessionID) (*textLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[sid]
	return l, ok
}

// Append validates, sequences, stores and fans out one message. The sender
// receives its own message through the fan-out like everybody else.
func (s *MessageService) Append(sid domain.SessionID, username, body string) (domain.Message, error) {
	msg, err := domain.NewMessage(sid, username, body)
	if err != nil {
		return domain.Message{}, err
	}

	l := s.getOrCreate(sid)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.Message{}, fmt.Errorf("session %q: %w", sid, domain.ErrNotFound)
	}
	l.lastID++
	msg.ID = l.lastID
	msg.Timestamp = s.now()
	l.msgs = append(l.msgs, *msg)

	res := publishEnvelope(s.policy, sid, protocol.MessageEnvelope(*msg), s.targets(l)...)
	for _, kicked := range res.Kicked {
		delete(l.subs, kicked)
	}
	log.Debug().Str("module", "app.messages").Str("session", string(sid)).Uint64("id", msg.ID).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("message appended")
	return *msg, nil
}

func (s *MessageService) targets(l *textLog) []core.SignalConnection {
	out := make([]core.SignalConnection, 0, len(l.subs))
	for c := range l.subs {
		out = append(out, c)
	}
	return out
}

// History returns every message of the session in append order.
func (s *MessageService) History(sid domain.SessionID) []domain.Message {
	l, ok := s.get(sid)
	if !ok {
		return []domain.Message{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.msgs)
}

// Attach backfills conn with the current history and subscribes it to live
// messages. Both happen under the log lock, so no message is missed or
// delivered twice.
func (s *MessageService) Attach(sid domain.SessionID, conn core.SignalConnection) error {
	l := s.getOrCreate(sid)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("session %q: %w", sid, domain.ErrNotFound)
	}
	frame := protocol.MustEncode(protocol.History(slices.Clone(l.msgs)))
	if err := conn.TrySend(frame); err != nil {
		return fmt.Errorf("send history: %w", err)
	}
	l.subs[conn] = struct{}{}
	log.Info().Str("module", "app.messages").Str("session", string(sid)).Str("conn", conn.ID()).Int("history", len(l.msgs)).Int("subscribers", len(l.subs)).Msg("subscriber attached")
	return nil
}

func (s *MessageService) Detach(sid domain.SessionID, conn core.SignalConnection) {
	l, ok := s.get(sid)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[conn]; !ok {
		return
	}
	delete(l.subs, conn)
	log.Info().Str("module", "app.messages").Str("session", string(sid)).Str("conn", conn.ID()).Int("subscribers", len(l.subs)).Msg("subscriber detached")
}

func (s *MessageService) Subscribers(sid domain.SessionID) int {
	l, ok := s.get(sid)
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Drop releases the session: subscribers get session_closed and are closed.
func (s *MessageService) Drop(sid domain.SessionID) {
	s.mu.Lock()
	l, ok := s.logs[sid]
	delete(s.logs, sid)
	s.mu.Unlock()
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	targets := s.targets(l)
	publishEnvelope(nil, sid, protocol.Envelope{Type: protocol.TypeSessionClosed}, targets...)
	for _, c := range targets {
		c.Close()
	}
	clear(l.subs)
	log.Info().Str("module", "app.messages").Str("session", string(sid)).Int("closed", len(targets)).Msg("session log dropped")
}

func (s *MessageService) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
