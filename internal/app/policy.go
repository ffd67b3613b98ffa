package app

import (
	"fmt"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/rs/zerolog/log"
)

type BackpressureAction int

const (
	KickMember BackpressureAction = iota
	DropFrame
)

type Policy interface {
	OnBackPressure(sid domain.SessionID, conn core.SignalConnection) BackpressureAction
}

// SimplePolicy kicks any subscriber that cannot keep up.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, core.SignalConnection) BackpressureAction {
	return KickMember
}

// DropPolicy keeps slow subscribers and loses the frames they cannot take.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.SessionID, core.SignalConnection) BackpressureAction {
	return DropFrame
}

// PolicyFor maps the backpressure config value onto a Policy.
func PolicyFor(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	}
	return nil, fmt.Errorf("backpressure %q: %w", name, domain.ErrInvalidInput)
}

// PublishResult reports delivery stats/backpressure of one fan-out.
type PublishResult struct {
	SendTo  int
	Dropped []core.SignalConnection
	Kicked  []core.SignalConnection
}

// publish fans frame out to targets and applies policy to slow consumers.
// Kicked connections are closed; callers must forget them.
func publish(policy Policy, sid domain.SessionID, frame core.Frame, targets ...core.SignalConnection) PublishResult {
	res := PublishResult{}
	for _, conn := range targets {
		if conn == nil {
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, conn)
			if policy == nil {
				continue
			}
			switch policy.OnBackPressure(sid, conn) {
			case KickMember:
				log.Warn().Err(err).Str("module", "app.policy").Str("session", string(sid)).Str("conn", conn.ID()).Msg("kicking slow subscriber")
				conn.Close()
				res.Kicked = append(res.Kicked, conn)
			case DropFrame:
				log.Debug().Str("module", "app.policy").Str("session", string(sid)).Str("conn", conn.ID()).Msg("frame dropped")
			}
			continue
		}
		res.SendTo++
	}
	return res
}

func publishEnvelope(policy Policy, sid domain.SessionID, env protocol.Envelope, targets ...core.SignalConnection) PublishResult {
	return publish(policy, sid, protocol.MustEncode(env), targets...)
}
