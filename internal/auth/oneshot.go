package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTokenInvalid is returned for a token that was never minted, has
// already been consumed, or has expired.
var ErrTokenInvalid = errors.New("one-shot token invalid, expired, or already used")

// oneShotTokenTTL is the window during which a minted token may be
// consumed exactly once.
const oneShotTokenTTL = 5 * time.Second

type oneShotEntry struct {
	expiresAt time.Time
	used      bool
}

// OneShotTokens mints and consumes single-use, short-lived credentials
// for header-less contexts (WebSocket upgrades, query-string auth). The
// bookkeeping shape — a map guarded by a mutex, pruned lazily on access —
// is the same one the teacher uses for pairing-code rate-limit windows,
// here generalized from "one code at a time" to "many independent
// tokens," since the gateway has no single-pairing-flow constraint.
type OneShotTokens struct {
	mu     sync.Mutex
	tokens map[string]*oneShotEntry
	now    func() time.Time
}

// NewOneShotTokens creates an empty token set.
func NewOneShotTokens() *OneShotTokens {
	return &OneShotTokens{
		tokens: make(map[string]*oneShotEntry),
		now:    time.Now,
	}
}

// Mint generates a fresh 32-char base32 token valid for 5 seconds.
func (t *OneShotTokens) Mint() (string, error) {
	b := make([]byte, keyByteLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate one-shot token: %w", err)
	}
	token := base32Enc.EncodeToString(b)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()
	t.tokens[token] = &oneShotEntry{expiresAt: t.now().Add(oneShotTokenTTL)}
	return token, nil
}

// Consume atomically checks and marks a token used. A second presentation
// of the same token, an expired token, or an unknown token all fail with
// ErrTokenInvalid — the caller cannot distinguish "expired" from "never
// existed," matching spec.md's admission-gate semantics (no information
// leak about which tokens were ever valid).
func (t *OneShotTokens) Consume(token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()

	entry, ok := t.tokens[token]
	if !ok {
		return ErrTokenInvalid
	}
	if entry.used || t.now().After(entry.expiresAt) {
		delete(t.tokens, token)
		return ErrTokenInvalid
	}

	entry.used = true
	delete(t.tokens, token)
	return nil
}

// prune discards expired or used entries. Must be called with t.mu held.
func (t *OneShotTokens) prune() {
	now := t.now()
	for token, entry := range t.tokens {
		if entry.used || now.After(entry.expiresAt) {
			delete(t.tokens, token)
		}
	}
}
