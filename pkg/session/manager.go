// Package session keeps one client-held credential alive: it schedules
// renewals ahead of expiry, de-duplicates concurrent refreshes, and
// enforces the inactivity timeout the server-side policy dictates.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crewflow/crewflow/pkg/directory"
	"github.com/crewflow/crewflow/pkg/observability"
)

// State is the lifecycle position of the managed credential.
type State int

const (
	StateUnarmed State = iota
	StateMonitoring
	StateRefreshing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUnarmed:
		return "unarmed"
	case StateMonitoring:
		return "monitoring"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

const (
	// DefaultRenewalLead is how far ahead of expiry a renewal is scheduled.
	DefaultRenewalLead = 5 * time.Minute
	// DefaultCheckInterval is the inactivity poll period.
	DefaultCheckInterval = 60 * time.Second
	// DefaultActivityThrottle caps how often activity updates are recorded.
	DefaultActivityThrottle = 5 * time.Second
)

// Credential is the client-held bearer token and its expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// RefreshFunc obtains a fresh credential from the identity provider.
type RefreshFunc func(ctx context.Context) (*Credential, error)

// PolicyFetcher loads the session-timeout policy from the server.
type PolicyFetcher func(ctx context.Context) (*directory.SessionPolicy, error)

// ErrExpired is returned once the session has ended, by timeout or by a
// failed renewal. The caller's only recovery is to re-authenticate.
var ErrExpired = fmt.Errorf("session: expired")

// ErrUnarmed is returned before Start has been called.
var ErrUnarmed = fmt.Errorf("session: not started")

// Manager owns the renewal schedule and inactivity timer for a single
// credential. It is constructed at sign-in and closed at sign-out;
// auth-state transitions are explicit method calls, never ambient
// callbacks, so the state machine is testable without a live provider.
type Manager struct {
	refresh     RefreshFunc
	fetchPolicy PolicyFetcher
	logger      *observability.Logger
	onExpire    func(reason string)

	lead          time.Duration
	checkInterval time.Duration
	throttle      time.Duration
	now           func() time.Time

	group singleflight.Group

	mu           sync.Mutex
	state        State
	cred         *Credential
	policy       *directory.SessionPolicy
	lastActivity time.Time
	refreshTimer *time.Timer
	stop         chan struct{}
	expired      bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRenewalLead overrides how far before expiry renewal fires.
func WithRenewalLead(d time.Duration) Option {
	return func(m *Manager) { m.lead = d }
}

// WithCheckInterval overrides the inactivity poll period.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.checkInterval = d }
}

// WithActivityThrottle overrides the minimum gap between recorded
// activity updates.
func WithActivityThrottle(d time.Duration) Option {
	return func(m *Manager) { m.throttle = d }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used for policy-load warnings.
func WithLogger(logger *observability.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithExpiryCallback registers a callback fired exactly once when the
// session ends, with the reason. Applications hook sign-out here.
func WithExpiryCallback(fn func(reason string)) Option {
	return func(m *Manager) { m.onExpire = fn }
}

// NewManager creates an unarmed manager. fetchPolicy may be nil, in
// which case the hardcoded default timeout applies.
func NewManager(refresh RefreshFunc, fetchPolicy PolicyFetcher, opts ...Option) *Manager {
	m := &Manager{
		refresh:       refresh,
		fetchPolicy:   fetchPolicy,
		lead:          DefaultRenewalLead,
		checkInterval: DefaultCheckInterval,
		throttle:      DefaultActivityThrottle,
		now:           time.Now,
		state:         StateUnarmed,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start arms the manager with the sign-in credential: loads the timeout
// policy, schedules the first renewal, and begins inactivity monitoring.
func (m *Manager) Start(ctx context.Context, cred *Credential) error {
	if cred == nil || cred.Token == "" {
		return fmt.Errorf("session: credential required")
	}

	m.ReloadPolicy(ctx)

	m.mu.Lock()
	if m.state != StateUnarmed {
		m.mu.Unlock()
		return fmt.Errorf("session: already started")
	}
	m.cred = cred
	m.state = StateMonitoring
	m.expired = false
	m.lastActivity = m.now()
	m.stop = make(chan struct{})
	m.armRefreshLocked(cred.ExpiresAt)
	stop := m.stop
	m.mu.Unlock()

	go m.watchIdle(stop)
	return nil
}

// ReloadPolicy refreshes the cached timeout policy. Fetch failures are
// swallowed: monitoring keeps running on the last-known-good policy, or
// on the hardcoded default when nothing was ever loaded. This is the one
// place network errors are intentionally not surfaced, because the
// fallback is itself safe and monitoring must keep working offline.
func (m *Manager) ReloadPolicy(ctx context.Context) {
	if m.fetchPolicy == nil {
		return
	}
	policy, err := m.fetchPolicy(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.WithError(err).Warn("session policy load failed, keeping cached policy")
		}
		return
	}
	m.mu.Lock()
	m.policy = policy
	m.mu.Unlock()
}

// EffectiveTimeout returns the inactivity budget currently in force.
// Company-enforced values win over the user preference, which wins over
// the system default.
func (m *Manager) EffectiveTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveTimeoutLocked()
}

func (m *Manager) effectiveTimeoutLocked() time.Duration {
	p := m.policy
	switch {
	case p == nil:
		return directory.DefaultSessionTimeoutMinutes * time.Minute
	case p.IsCompanyEnforced && p.CompanyTimeout > 0:
		return time.Duration(p.CompanyTimeout) * time.Minute
	case p.UserTimeout > 0:
		return time.Duration(p.UserTimeout) * time.Minute
	case p.TimeoutMinutes > 0:
		return time.Duration(p.TimeoutMinutes) * time.Minute
	}
	return directory.DefaultSessionTimeoutMinutes * time.Minute
}

// RecordActivity notes user activity, throttled so high-frequency input
// events do not take the lock on every keystroke.
func (m *Manager) RecordActivity() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateMonitoring && m.state != StateRefreshing {
		return
	}
	if now.Sub(m.lastActivity) < m.throttle {
		return
	}
	m.lastActivity = now
}

// IdleExceeded reports whether the inactivity budget has been spent.
func (m *Manager) IdleExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateMonitoring && m.state != StateRefreshing {
		return false
	}
	return m.now().Sub(m.lastActivity) > m.effectiveTimeoutLocked()
}

// Valid reports whether the session can still authenticate requests.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateMonitoring, StateRefreshing:
	default:
		return false
	}
	if m.now().Sub(m.lastActivity) > m.effectiveTimeoutLocked() {
		return false
	}
	return true
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Credential returns the live credential.
func (m *Manager) Credential() (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateUnarmed:
		return nil, ErrUnarmed
	case StateExpired:
		return nil, ErrExpired
	}
	cred := *m.cred
	return &cred, nil
}

// Refresh renews the credential. Concurrent callers (the renewal timer
// and a 401-triggered retry arriving together) share one in-flight
// renewal and observe the same resulting credential. A failed renewal
// expires the session.
func (m *Manager) Refresh(ctx context.Context) (*Credential, error) {
	m.mu.Lock()
	switch m.state {
	case StateUnarmed:
		m.mu.Unlock()
		return nil, ErrUnarmed
	case StateExpired:
		m.mu.Unlock()
		return nil, ErrExpired
	}
	m.state = StateRefreshing
	m.mu.Unlock()

	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		m.expire("credential renewal failed")
		return nil, ErrExpired
	}

	cred := v.(*Credential)
	m.mu.Lock()
	if m.state == StateExpired {
		m.mu.Unlock()
		return nil, ErrExpired
	}
	if m.state == StateRefreshing {
		m.cred = cred
		m.state = StateMonitoring
		m.armRefreshLocked(cred.ExpiresAt)
	}
	m.mu.Unlock()
	return cred, nil
}

// ForceExpire ends the session immediately, regardless of credential
// validity. Used by the idle watcher and by pre-flight transport checks.
func (m *Manager) ForceExpire(reason string) {
	m.expire(reason)
}

// Close tears the manager down at sign-out: timers stopped, watcher
// goroutine released, credential cleared. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	m.teardownLocked()
	m.state = StateUnarmed
	m.cred = nil
	m.mu.Unlock()
}

func (m *Manager) expire(reason string) {
	m.mu.Lock()
	if m.expired || m.state == StateUnarmed {
		m.mu.Unlock()
		return
	}
	m.expired = true
	m.teardownLocked()
	m.state = StateExpired
	m.cred = nil
	onExpire := m.onExpire
	m.mu.Unlock()

	if onExpire != nil {
		onExpire(reason)
	}
}

// teardownLocked clears the renewal timer and stops the idle watcher so
// no monitoring loop outlives the credential.
func (m *Manager) teardownLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

func (m *Manager) armRefreshLocked(expiresAt time.Time) {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	delay := expiresAt.Add(-m.lead).Sub(m.now())
	if delay < 0 {
		delay = 0
	}
	m.refreshTimer = time.AfterFunc(delay, func() {
		_, _ = m.Refresh(context.Background())
	})
}

func (m *Manager) watchIdle(stop chan struct{}) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.IdleExceeded() {
				m.expire("inactivity timeout")
				return
			}
		}
	}
}
