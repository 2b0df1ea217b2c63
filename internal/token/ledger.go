// Package token implements the short-lived, single-use access tokens which
// gate the privileged operations of the service.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

var (
	log = logger.Get("TokenLedger")

	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInvalidToken = errors.New("invalid or expired token")
)

const tokenEntropyBytes = 32

type (
	// Token is a single issued credential. The Value is the opaque string
	// handed to the client.
	Token struct {
		Value     string
		ClientID  string
		CreatedAt time.Time
		Used      bool
	}

	Config struct {
		TTL            time.Duration `yaml:"ttl" env:"TOKEN_TTL" env-default:"300s"`
		MaxPerClient   int           `yaml:"max_per_client" env:"TOKEN_MAX_PER_CLIENT" env-default:"10"`
		IssuanceWindow time.Duration `yaml:"issuance_window" env:"TOKEN_ISSUANCE_WINDOW" env-default:"1h"`
	}

	// Ledger is a concurrency-safe store of issued tokens. Tokens are
	// only reachable through the ledgers methods.
	Ledger struct {
		mu      sync.Mutex
		config  Config
		tokens  map[string]*Token
		history map[string][]time.Time
		now     func() time.Time
	}

	Option func(*Ledger)
)

// DefaultConfig matches the public contract of the API: tokens live for
// five minutes and each client may be issued ten per hour.
func DefaultConfig() Config {
	return Config{TTL: 300 * time.Second, MaxPerClient: 10, IssuanceWindow: time.Hour}
}

// WithClock overrides the time source of the ledger.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.now = clock
		}
	}
}

func NewLedger(config Config, opts ...Option) *Ledger {
	ledger := &Ledger{
		config:  config,
		tokens:  make(map[string]*Token),
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ledger)
	}

	return ledger
}

// TTL returns the fixed lifetime of every token issued by this ledger.
func (ledger *Ledger) TTL() time.Duration { return ledger.config.TTL }

// Issue sweeps expired tokens and then creates a new token for the client
// provided. ErrRateLimited is returned if the client has already been issued
// the maximum number of tokens within the issuance window.
func (ledger *Ledger) Issue(clientID string) (Token, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	now := ledger.now()
	ledger.sweepLocked(now)

	if len(ledger.history[clientID]) >= ledger.config.MaxPerClient {
		log.Emit(logger.WARNING, "Client %s exceeded token issuance limit\n", clientID)
		return Token{}, ErrRateLimited
	}

	value, err := generateValue()
	if err != nil {
		return Token{}, fmt.Errorf("failed to generate token: %w", err)
	}

	tok := &Token{Value: value, ClientID: clientID, CreatedAt: now}
	ledger.tokens[value] = tok
	ledger.history[clientID] = append(ledger.history[clientID], now)

	log.Emit(logger.NEW, "Generated token for client %s\n", clientID)
	return *tok, nil
}

// Validate returns true if the token exists, has not been used and has
// not exceeded its TTL. An expired token is evicted as a side-effect. The
// token is NOT marked as used, see Consume.
func (ledger *Ledger) Validate(value string) bool {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	_, ok := ledger.validLocked(value, ledger.now())
	return ok
}

// Consume validates the token and, if valid, marks it used so that every
// later Validate or Consume for it fails.
func (ledger *Ledger) Consume(value string) bool {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	tok, ok := ledger.validLocked(value, ledger.now())
	if !ok {
		return false
	}

	tok.Used = true
	return true
}

// Sweep removes all tokens older than the TTL, and forgets issuance history
// which has fallen outside of the rate limiting window.
func (ledger *Ledger) Sweep() int {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	return ledger.sweepLocked(ledger.now())
}

// Len returns the number of tokens currently held in the ledger.
func (ledger *Ledger) Len() int {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	return len(ledger.tokens)
}

func (ledger *Ledger) validLocked(value string, now time.Time) (*Token, bool) {
	if value == "" {
		return nil, false
	}

	tok, ok := ledger.tokens[value]
	if !ok || tok.Used {
		return nil, false
	}

	if now.Sub(tok.CreatedAt) > ledger.config.TTL {
		delete(ledger.tokens, value)
		return nil, false
	}

	return tok, true
}

func (ledger *Ledger) sweepLocked(now time.Time) int {
	removed := 0
	for value, tok := range ledger.tokens {
		if now.Sub(tok.CreatedAt) > ledger.config.TTL {
			delete(ledger.tokens, value)
			removed++
		}
	}

	for clientID, issued := range ledger.history {
		kept := issued[:0]
		for _, at := range issued {
			if now.Sub(at) < ledger.config.IssuanceWindow {
				kept = append(kept, at)
			}
		}

		if len(kept) == 0 {
			delete(ledger.history, clientID)
		} else {
			ledger.history[clientID] = kept
		}
	}

	if removed > 0 {
		log.Emit(logger.REMOVE, "Swept %d expired tokens\n", removed)
	}
	return removed
}

func generateValue() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
