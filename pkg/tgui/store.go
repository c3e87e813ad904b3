package tgui

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

const (
	tokenTTL   = 15 * time.Minute
	tokenMax   = 5000
	sweepEvery = time.Minute
)

// TokenStore keeps callback payloads too large for callback_data in memory
// and hands out short tokens for them. Tokens start with "~" and never
// contain ':'. Entries expire after 15 minutes; past 5000 live entries,
// arbitrary ones are evicted.
type TokenStore struct {
	mu        sync.Mutex
	m         map[string]tokenEntry
	nextSweep time.Time
	now       func() time.Time
}

type tokenEntry struct {
	b   []byte
	exp time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{m: map[string]tokenEntry{}, now: time.Now}
}

// PutBytes stores a copy of b under a fresh token.
func (s *TokenStore) PutBytes(b []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)

	var buf [6]byte
	for {
		_, _ = rand.Read(buf[:])
		tok := "~" + base64.RawURLEncoding.EncodeToString(buf[:])
		if _, taken := s.m[tok]; taken {
			continue
		}
		s.m[tok] = tokenEntry{b: bytes.Clone(b), exp: now.Add(tokenTTL)}
		for k := range s.m {
			if len(s.m) <= tokenMax {
				break
			}
			if k != tok {
				delete(s.m, k)
			}
		}
		return tok
	}
}

func (s *TokenStore) PutString(v string) string { return s.PutBytes([]byte(v)) }

// GetBytes returns a copy of the payload behind tok, or false once it has
// expired or was evicted.
func (s *TokenStore) GetBytes(tok string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[tok]
	if !ok {
		return nil, false
	}
	if s.now().After(e.exp) {
		delete(s.m, tok)
		return nil, false
	}
	return bytes.Clone(e.b), true
}

func (s *TokenStore) GetString(tok string) (string, bool) {
	b, ok := s.GetBytes(tok)
	return string(b), ok
}

func (s *TokenStore) sweepLocked(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = now.Add(sweepEvery)
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
}
