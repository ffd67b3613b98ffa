package app

import (
	"sync"
	"testing"

	"github.com/dkeye/Cast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(codes ...string) CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func() domain.Code {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i%len(codes)]
		i++
		return domain.Code(c)
	}
}

func TestRandomCodeIsValid(t *testing.T) {
	for range 100 {
		assert.True(t, RandomCode().Valid())
	}
}

func TestDirectoryCreateLookup(t *testing.T) {
	d := NewDirectory(4, nil)
	s, err := d.Create(domain.KindText)
	require.NoError(t, err)
	assert.True(t, s.Code.Valid())
	assert.Equal(t, domain.KindText, s.Kind)

	got, err := d.Lookup(" " + string(s.Code) + " ")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	lower := []byte(s.Code)
	for i := range lower {
		if lower[i] >= 'A' && lower[i] <= 'Z' {
			lower[i] += 'a' - 'A'
		}
	}
	got, err = d.Lookup(string(lower))
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	byID, err := d.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Code, byID.Code)
}

func TestDirectoryRetriesCollisions(t *testing.T) {
	d := NewDirectory(3, sequence("AAAAAA", "AAAAAA", "bad", "BBBBBB"))
	first, err := d.Create(domain.KindStream)
	require.NoError(t, err)
	assert.EqualValues(t, "AAAAAA", first.Code)

	// AAAAAA collides, "bad" is invalid, BBBBBB is free.
	second, err := d.Create(domain.KindStream)
	require.NoError(t, err)
	assert.EqualValues(t, "BBBBBB", second.Code)
}

func TestDirectoryCapacityExceeded(t *testing.T) {
	d := NewDirectory(2, sequence("ZZZZZZ"))
	_, err := d.Create(domain.KindText)
	require.NoError(t, err)

	_, err = d.Create(domain.KindText)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Equal(t, 1, d.Count())
}

func TestDirectoryCloseIsIdempotent(t *testing.T) {
	d := NewDirectory(4, nil)
	s, err := d.Create(domain.KindText)
	require.NoError(t, err)

	closed, ok := d.Close(string(s.Code))
	assert.True(t, ok)
	assert.Equal(t, s.ID, closed.ID)

	_, ok = d.Close(string(s.Code))
	assert.False(t, ok)

	_, err = d.Lookup(string(s.Code))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = d.Get(s.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, d.Count())
}

func TestDirectoryLookupUnknown(t *testing.T) {
	d := NewDirectory(4, nil)
	_, err := d.Lookup("NOPE00")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDirectoryConcurrentCreateUniqueCodes(t *testing.T) {
	d := NewDirectory(16, nil)
	const n = 200
	var wg sync.WaitGroup
	codes := make(chan domain.Code, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := d.Create(domain.KindText)
			if err == nil {
				codes <- s.Code
			}
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[domain.Code]bool{}
	for c := range codes {
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
	assert.Equal(t, len(seen), d.Count())
}
