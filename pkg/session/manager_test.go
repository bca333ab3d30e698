package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewflow/crewflow/pkg/directory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func staticRefresh(token string) RefreshFunc {
	return func(ctx context.Context) (*Credential, error) {
		return &Credential{Token: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
}

func longLivedCred() *Credential {
	return &Credential{Token: "initial", ExpiresAt: time.Now().Add(time.Hour)}
}

func TestStartRequiresCredential(t *testing.T) {
	m := NewManager(staticRefresh("x"), nil)
	defer m.Close()

	assert.Error(t, m.Start(context.Background(), nil))
	assert.Error(t, m.Start(context.Background(), &Credential{}))
	require.NoError(t, m.Start(context.Background(), longLivedCred()))
	assert.Equal(t, StateMonitoring, m.State())
}

func TestRefreshSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls int64
	refresh := func(ctx context.Context) (*Credential, error) {
		atomic.AddInt64(&calls, 1)
		<-release
		return &Credential{Token: "renewed", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	m := NewManager(refresh, nil)
	defer m.Close()
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	// Simulate the renewal timer and a 401-triggered retry racing.
	const callers = 10
	results := make([]*Credential, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background())
		}(i)
	}

	// Give every caller time to join the in-flight renewal, then let it
	// complete.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, "renewed", results[i].Token)
	}
	assert.Equal(t, StateMonitoring, m.State())
}

func TestRefreshFailureExpiresSession(t *testing.T) {
	var reason string
	refresh := func(ctx context.Context) (*Credential, error) {
		return nil, errors.New("identity provider unreachable")
	}

	m := NewManager(refresh, nil, WithExpiryCallback(func(r string) { reason = r }))
	defer m.Close()
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, StateExpired, m.State())
	assert.Equal(t, "credential renewal failed", reason)

	_, err = m.Credential()
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRefreshUpdatesCredential(t *testing.T) {
	m := NewManager(staticRefresh("renewed"), nil)
	defer m.Close()
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	cred, err := m.Credential()
	require.NoError(t, err)
	assert.Equal(t, "renewed", cred.Token)
}

func TestImmediateRefreshWhenPastLead(t *testing.T) {
	var calls int64
	refresh := func(ctx context.Context) (*Credential, error) {
		atomic.AddInt64(&calls, 1)
		return &Credential{Token: "renewed", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	m := NewManager(refresh, nil)
	defer m.Close()

	// Expiry is inside the lead window, so renewal must fire right away.
	cred := &Credential{Token: "old", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, m.Start(context.Background(), cred))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEffectiveTimeoutPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		policy *directory.SessionPolicy
		want   time.Duration
	}{
		{
			name: "company enforced beats user preference",
			policy: &directory.SessionPolicy{
				IsCompanyEnforced: true,
				CompanyTimeout:    15,
				UserTimeout:       60,
			},
			want: 15 * time.Minute,
		},
		{
			name: "user preference when not enforced",
			policy: &directory.SessionPolicy{
				CompanyTimeout: 15,
				UserTimeout:    60,
			},
			want: 60 * time.Minute,
		},
		{
			name:   "server resolved value as fallback",
			policy: &directory.SessionPolicy{TimeoutMinutes: 45},
			want:   45 * time.Minute,
		},
		{
			name: "system default when nothing set",
			want: directory.DefaultSessionTimeoutMinutes * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch := func(ctx context.Context) (*directory.SessionPolicy, error) {
				if tt.policy == nil {
					return nil, errors.New("unreachable")
				}
				return tt.policy, nil
			}
			m := NewManager(staticRefresh("x"), fetch)
			defer m.Close()
			require.NoError(t, m.Start(context.Background(), longLivedCred()))
			assert.Equal(t, tt.want, m.EffectiveTimeout())
		})
	}
}

func TestPolicyLoadFailureKeepsLastKnownGood(t *testing.T) {
	var fail bool
	fetch := func(ctx context.Context) (*directory.SessionPolicy, error) {
		if fail {
			return nil, errors.New("policy endpoint down")
		}
		return &directory.SessionPolicy{IsCompanyEnforced: true, CompanyTimeout: 15}, nil
	}

	m := NewManager(staticRefresh("x"), fetch)
	defer m.Close()
	require.NoError(t, m.Start(context.Background(), longLivedCred()))
	require.Equal(t, 15*time.Minute, m.EffectiveTimeout())

	// A later failed reload must not discard the cached policy.
	fail = true
	m.ReloadPolicy(context.Background())
	assert.Equal(t, 15*time.Minute, m.EffectiveTimeout())
}

func TestIdleBoundaries(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(staticRefresh("x"), nil, WithClock(clock.Now))
	defer m.Close()
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	// Default budget is 30 minutes.
	clock.Advance(29 * time.Minute)
	assert.False(t, m.IdleExceeded())
	assert.True(t, m.Valid())

	clock.Advance(2 * time.Minute)
	assert.True(t, m.IdleExceeded())
	assert.False(t, m.Valid())
}

func TestActivityResetsIdleClock(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(staticRefresh("x"), nil, WithClock(clock.Now))
	defer m.Close()
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	clock.Advance(25 * time.Minute)
	m.RecordActivity()
	clock.Advance(25 * time.Minute)
	assert.False(t, m.IdleExceeded(), "activity at 25m should restart the budget")

	clock.Advance(6 * time.Minute)
	assert.True(t, m.IdleExceeded())
}

func TestActivityThrottled(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(staticRefresh("x"), nil,
		WithClock(clock.Now),
		WithActivityThrottle(10*time.Second))
	defer m.Close()
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	clock.Advance(29 * time.Minute)
	m.RecordActivity() // recorded

	clock.Advance(5 * time.Second)
	m.RecordActivity() // inside the throttle window, dropped

	// 30m1s since the recorded activity at 29m.
	clock.Advance(30*time.Minute - 4*time.Second)
	assert.True(t, m.IdleExceeded())
}

func TestForceExpireFiresCallbackOnce(t *testing.T) {
	var fired int
	m := NewManager(staticRefresh("x"), nil, WithExpiryCallback(func(string) { fired++ }))
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	m.ForceExpire("inactivity timeout")
	m.ForceExpire("inactivity timeout")

	assert.Equal(t, 1, fired)
	assert.Equal(t, StateExpired, m.State())
	assert.False(t, m.Valid())

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
}

func TestIdleWatcherForcesExpiry(t *testing.T) {
	clock := newFakeClock()
	done := make(chan string, 1)
	m := NewManager(staticRefresh("x"), nil,
		WithClock(clock.Now),
		WithCheckInterval(10*time.Millisecond),
		WithExpiryCallback(func(reason string) { done <- reason }))
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	clock.Advance(31 * time.Minute)

	select {
	case reason := <-done:
		assert.Equal(t, "inactivity timeout", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("idle watcher never fired")
	}
	assert.Equal(t, StateExpired, m.State())
}

func TestCloseStopsMonitoring(t *testing.T) {
	m := NewManager(staticRefresh("x"), nil)
	require.NoError(t, m.Start(context.Background(), longLivedCred()))

	m.Close()
	assert.Equal(t, StateUnarmed, m.State())
	_, err := m.Credential()
	assert.ErrorIs(t, err, ErrUnarmed)

	// Close is idempotent.
	m.Close()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unarmed", StateUnarmed.String())
	assert.Equal(t, "monitoring", StateMonitoring.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "unknown", State(42).String())
}
