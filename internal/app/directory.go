package app

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/dkeye/Cast/internal/core"
	"github.com/dkeye/Cast/internal/domain"
	"github.com/rs/zerolog/log"
)

// CodeGenerator yields candidate session codes; collisions are retried.
type CodeGenerator func() domain.Code

// RandomCode draws CodeLen characters uniformly from domain.CodeAlphabet.
func RandomCode() domain.Code {
	b := make([]byte, domain.CodeLen)
	for i := range b {
		b[i] = domain.CodeAlphabet[rand.IntN(len(domain.CodeAlphabet))]
	}
	return domain.Code(b)
}

// Directory is a threadsafe in-memory session registry.
type Directory struct {
	mu       sync.RWMutex
	byID     map[domain.SessionID]domain.Session
	byCode   map[domain.Code]domain.SessionID
	attempts int
	gen      CodeGenerator
}

var _ core.SessionDirectory = (*Directory)(nil)

func NewDirectory(attempts int, gen CodeGenerator) *Directory {
	if attempts <= 0 {
		attempts = 1
	}
	if gen == nil {
		gen = RandomCode
	}
	return &Directory{
		byID:     make(map[domain.SessionID]domain.Session),
		byCode:   make(map[domain.Code]domain.SessionID),
		attempts: attempts,
		gen:      gen,
	}
}

func (d *Directory) Create(kind domain.SessionKind) (domain.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for range d.attempts {
		code := domain.NormalizeCode(string(d.gen()))
		if !code.Valid() {
			continue
		}
		if _, taken := d.byCode[code]; taken {
			log.Debug().Str("module", "app.directory").Str("code", string(code)).Msg("code collision, retrying")
			continue
		}
		s := domain.NewSession(code, kind)
		d.byID[s.ID] = s
		d.byCode[s.Code] = s.ID
		log.Info().Str("module", "app.directory").Str("session", string(s.ID)).Str("code", string(s.Code)).Str("kind", string(kind)).Msg("session created")
		return s, nil
	}
	return domain.Session{}, fmt.Errorf("no free code after %d attempts: %w", d.attempts, domain.ErrCapacityExceeded)
}

func (d *Directory) Lookup(code string) (domain.Session, error) {
	c := domain.NormalizeCode(code)
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byCode[c]
	if !ok {
		return domain.Session{}, fmt.Errorf("code %q: %w", c, domain.ErrNotFound)
	}
	return d.byID[id], nil
}

func (d *Directory) Get(id domain.SessionID) (domain.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byID[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %q: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (d *Directory) Close(code string) (domain.Session, bool) {
	c := domain.NormalizeCode(code)
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byCode[c]
	if !ok {
		return domain.Session{}, false
	}
	s := d.byID[id]
	delete(d.byCode, c)
	delete(d.byID, id)
	log.Info().Str("module", "app.directory").Str("session", string(id)).Str("code", string(c)).Msg("session closed")
	return s, true
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
