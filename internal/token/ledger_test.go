package token_test

import (
	"sync"
	"testing"
	"time"

	"github.com/labstack/gommon/random"
	"github.com/priyankadasarigt/ytdown/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLedger() (*token.Ledger, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return token.NewLedger(token.DefaultConfig(), token.WithClock(clock.Now)), clock
}

func Test_Issue_ReturnsUniqueHighEntropyTokens(t *testing.T) {
	ledger, _ := newLedger()

	a, err := ledger.Issue("1.2.3.4")
	require.NoError(t, err)
	b, err := ledger.Issue("1.2.3.4")
	require.NoError(t, err)

	assert.NotEqual(t, a.Value, b.Value)
	assert.GreaterOrEqual(t, len(a.Value), 43, "32 bytes of base64 should be at least 43 chars")
	assert.Equal(t, 300*time.Second, ledger.TTL())
	assert.Equal(t, 2, ledger.Len())
}

func Test_Validate_ExpiresAfterTTL(t *testing.T) {
	tests := []struct {
		summary string
		age     time.Duration
		valid   bool
	}{
		{"fresh token", 0, true},
		{"token at exactly ttl", 300 * time.Second, true},
		{"token one second past ttl", 301 * time.Second, false},
		{"token long past ttl", time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			ledger, clock := newLedger()
			tok, err := ledger.Issue("client")
			require.NoError(t, err)

			clock.Advance(tt.age)
			assert.Equal(t, tt.valid, ledger.Validate(tok.Value))
			if !tt.valid {
				assert.Equal(t, 0, ledger.Len(), "expired token should be evicted by Validate")
			}
		})
	}
}

func Test_Validate_UnknownAndEmpty(t *testing.T) {
	ledger, _ := newLedger()
	assert.False(t, ledger.Validate(""))
	assert.False(t, ledger.Validate("not-a-token"))
	assert.False(t, ledger.Consume("not-a-token"))

	_, err := ledger.Issue("1.2.3.4")
	require.NoError(t, err)
	forged := random.String(43, random.Alphanumeric)
	assert.False(t, ledger.Validate(forged), "forged tokens of the right shape are rejected")
}

func Test_Validate_DoesNotConsume(t *testing.T) {
	ledger, _ := newLedger()
	tok, err := ledger.Issue("client")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.True(t, ledger.Validate(tok.Value))
	}
}

func Test_Consume_IsSingleUse(t *testing.T) {
	ledger, _ := newLedger()
	tok, err := ledger.Issue("client")
	require.NoError(t, err)

	assert.True(t, ledger.Consume(tok.Value))
	for i := 0; i < 3; i++ {
		assert.False(t, ledger.Validate(tok.Value))
		assert.False(t, ledger.Consume(tok.Value))
	}
}

func Test_Consume_ConcurrentCallersOnlyOneWins(t *testing.T) {
	ledger, _ := newLedger()
	tok, err := ledger.Issue("client")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.Consume(tok.Value)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func Test_Issue_RateLimitsPerClient(t *testing.T) {
	ledger, clock := newLedger()

	for i := 0; i < 10; i++ {
		_, err := ledger.Issue("client-a")
		require.NoErrorf(t, err, "issuance %d should succeed", i+1)
		clock.Advance(time.Minute)
	}

	_, err := ledger.Issue("client-a")
	assert.ErrorIs(t, err, token.ErrRateLimited, "11th issuance within the hour must be rejected")

	_, err = ledger.Issue("client-b")
	assert.NoError(t, err, "limit must be per client")

	// First issuance was at t=0, we're now at t=10m. Once the first falls out
	// of the window a new token may be issued.
	clock.Advance(50*time.Minute + time.Second)
	_, err = ledger.Issue("client-a")
	assert.NoError(t, err)
}

func Test_Sweep_RemovesExpiredTokens(t *testing.T) {
	ledger, clock := newLedger()
	_, err := ledger.Issue("client")
	require.NoError(t, err)

	clock.Advance(200 * time.Second)
	fresh, err := ledger.Issue("client")
	require.NoError(t, err)

	clock.Advance(101 * time.Second)
	assert.Equal(t, 1, ledger.Sweep())
	assert.Equal(t, 1, ledger.Len())
	assert.True(t, ledger.Validate(fresh.Value))
}
