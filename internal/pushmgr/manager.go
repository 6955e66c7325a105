// Package pushmgr owns the push-notification lifecycle for one member
// session: worker readiness, permission, subscribe and unsubscribe against
// the notification backend, and the locally cached inbox with its unread
// badge.
//
// Every public operation converts failures into a *Error, stores it as the
// state's LastError and returns it; nothing panics across the API. Loading
// is raised before the first blocking call of a lifecycle operation and
// lowered after the last one, on every path.
package pushmgr

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/gymbell/gymbell/internal/host"
	"github.com/gymbell/gymbell/internal/logging"
	"github.com/gymbell/gymbell/internal/retry"
	"github.com/gymbell/gymbell/pkg/domain"
)

const (
	DefaultActivationTimeout = 5 * time.Second
	DefaultPageSize          = 50
)

// Backend is the part of the notification service the manager uses.
// *client.Client implements it.
type Backend interface {
	VAPIDPublicKey(ctx context.Context) (string, error)
	SubscribePush(ctx context.Context, sub domain.PushSubscription) error
	UnsubscribePush(ctx context.Context, endpoint string) error
	SendTestPush(ctx context.Context) error
	ListNotifications(ctx context.Context, page, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, ids []string) error
	MarkAllRead(ctx context.Context) error
	UnreadCount(ctx context.Context) (int, error)
}

// State is a point-in-time copy of the manager's state.
type State struct {
	Supported         bool
	PermissionGranted bool
	WorkerReady       bool
	Subscribed        bool
	Loading           bool
	// Endpoint of the live subscription; empty when unsubscribed.
	Endpoint  string
	LastError *Error

	Notifications []domain.Notification
	UnreadCount   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetry sets the worker-readiness retry policy.
func WithRetry(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p.Normalize() }
}

// WithActivationTimeout bounds how long one attempt waits for an
// installing worker to activate.
func WithActivationTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.activationTimeout = d
		}
	}
}

// WithPageSize sets how many notifications LoadNotifications fetches.
func WithPageSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithDeviceInfo sets the metadata sent along with a new subscription.
func WithDeviceInfo(d domain.DeviceInfo) Option {
	return func(m *Manager) { m.device = &d }
}

// WithOnChange registers fn to receive a snapshot after every state change.
// fn is called without locks held and must not block for long.
func WithOnChange(fn func(State)) Option {
	return func(m *Manager) { m.onChange = fn }
}

// WithClock replaces time.Now for readAt stamping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the push subscription manager. Construct it with New, call
// Init once, and Dispose when the session ends.
type Manager struct {
	rt host.Runtime
	be Backend

	log               zerolog.Logger
	policy            retry.Policy
	activationTimeout time.Duration
	pageSize          int
	device            *domain.DeviceInfo
	now               func() time.Time
	onChange          func(State)

	mu                sync.RWMutex
	supported         bool
	permissionGranted bool
	workerReady       bool
	subscribed        bool
	handle            host.Subscription
	loading           int
	lastErr           *Error
	notifications     []domain.Notification
	unread            int

	// lifecycle serializes Subscribe against Unsubscribe; flight collapses
	// concurrent calls of the same one into a single run.
	lifecycle sync.Mutex
	flight    singleflight.Group

	initialized bool
	disposed    bool
	eventCtx    context.Context
	cancel      context.CancelFunc
	releases    []func()
}

// New returns a Manager for rt and be. It does not touch either until Init.
func New(rt host.Runtime, be Backend, opts ...Option) *Manager {
	m := &Manager{
		rt:                rt,
		be:                be,
		log:               logging.Component("pushmgr"),
		policy:            retry.DefaultPolicy(),
		activationTimeout: DefaultActivationTimeout,
		pageSize:          DefaultPageSize,
		now:               time.Now,
		notifications:     []domain.Notification{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.device == nil {
		d := DefaultDeviceInfo()
		m.device = &d
	}
	m.eventCtx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Init detects support and permission, waits for the worker, and picks up
// an existing subscription. It only fails when ctx ends.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized || m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	if !m.rt.Supported() {
		m.update(func() {
			m.supported = false
			m.workerReady = false
		})
		m.log.Info().Msg("push not supported by host")
		return nil
	}

	granted := m.rt.Permission() == host.PermissionGranted
	m.update(func() {
		m.supported = true
		m.permissionGranted = granted
	})

	releaseCtrl := m.rt.OnControllerChange(m.handleControllerChange)
	releaseMsg := m.rt.OnMessage(m.handleMessage)
	m.mu.Lock()
	m.releases = append(m.releases, releaseCtrl, releaseMsg)
	m.mu.Unlock()

	reg, err := m.readyRegistration(ctx)
	m.setWorkerReady(err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warn().Err(err).Msg("worker not ready after init")
		return nil
	}

	if !granted {
		return nil
	}

	sub, err := reg.PushManager().Subscription(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("lookup existing subscription")
		return nil
	}
	m.update(func() {
		m.subscribed = sub != nil
		m.handle = sub
	})
	if sub != nil {
		m.log.Info().Str("endpoint", sub.Endpoint()).Msg("restored existing subscription")
		if err := m.refreshUnread(ctx); err != nil {
			m.log.Warn().Err(err).Msg("refresh unread count after init")
		}
	}
	return nil
}

// Dispose unregisters the host event handlers and stops event-driven work.
// It is safe to call more than once.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	releases := m.releases
	m.releases = nil
	m.mu.Unlock()

	m.cancel()
	for _, release := range releases {
		release()
	}
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Handle returns the live subscription, or nil when unsubscribed.
func (m *Manager) Handle() host.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

func (m *Manager) snapshotLocked() State {
	s := State{
		Supported:         m.supported,
		PermissionGranted: m.permissionGranted,
		WorkerReady:       m.workerReady,
		Subscribed:        m.subscribed,
		Loading:           m.loading > 0,
		LastError:         m.lastErr,
		UnreadCount:       m.unread,
		Notifications:     make([]domain.Notification, len(m.notifications)),
	}
	copy(s.Notifications, m.notifications)
	if m.handle != nil {
		s.Endpoint = m.handle.Endpoint()
	}
	return s
}

// update applies fn under the lock and notifies the observer.
func (m *Manager) update(fn func()) {
	m.mu.Lock()
	fn()
	var snap State
	if m.onChange != nil {
		snap = m.snapshotLocked()
	}
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(snap)
	}
}

// begin starts an operation: it clears the last error and, for lifecycle
// operations, raises Loading. The returned func lowers it again.
func (m *Manager) begin(loading bool) func() {
	m.update(func() {
		m.lastErr = nil
		if loading {
			m.loading++
		}
	})
	if !loading {
		return func() {}
	}
	return func() {
		m.update(func() { m.loading-- })
	}
}

// fail records e as the last error.
func (m *Manager) fail(e *Error) *Error {
	m.update(func() { m.lastErr = e })
	ev := m.log.Warn().Str("kind", e.Kind.String())
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Msg(e.Message)
	return e
}

func (m *Manager) setWorkerReady(ready bool) {
	m.update(func() { m.workerReady = ready })
}

func (m *Manager) handleControllerChange() {
	reg, err := m.readyRegistration(m.eventCtx)
	m.setWorkerReady(err == nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("worker not ready after controller change")
		return
	}
	m.log.Debug().Msg("worker ready after controller change")
	m.reconcile(m.eventCtx, reg)
}

// reconcile adopts the permission and subscription the host now reports,
// which another process may have changed since Init.
func (m *Manager) reconcile(ctx context.Context, reg host.Registration) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	granted := m.rt.Permission() == host.PermissionGranted
	var sub host.Subscription
	if granted {
		var err error
		sub, err = reg.PushManager().Subscription(ctx)
		if err != nil {
			m.log.Warn().Err(err).Msg("lookup subscription after controller change")
			m.update(func() { m.permissionGranted = granted })
			return
		}
		if sub != nil && (len(sub.Key(host.KeyP256dh)) == 0 || len(sub.Key(host.KeyAuth)) == 0) {
			sub = nil
		}
	}

	var changed bool
	m.update(func() {
		m.permissionGranted = granted
		switch {
		case sub == nil && m.handle == nil:
		case sub != nil && m.handle != nil && sub.Endpoint() == m.handle.Endpoint():
		default:
			changed = true
			m.subscribed = sub != nil
			m.handle = sub
			m.notifications = []domain.Notification{}
			m.unread = 0
		}
	})
	if !changed {
		return
	}
	if sub == nil {
		m.log.Info().Msg("subscription removed by host")
		return
	}
	m.log.Info().Str("endpoint", sub.Endpoint()).Msg("adopted host subscription")
	if err := m.refreshUnread(ctx); err != nil {
		m.log.Warn().Err(err).Msg("refresh unread count after controller change")
	}
	if err := m.loadNotifications(ctx); err != nil {
		m.log.Warn().Err(err).Msg("reload notifications after controller change")
	}
}

// handleMessage refreshes the inbox after a push. Pushes that arrive while
// unsubscribed are dropped so a cleared inbox stays empty.
func (m *Manager) handleMessage(msg host.Message) {
	if msg.Type != host.MessageNotification {
		m.log.Debug().Str("type", msg.Type).Msg("ignoring worker message")
		return
	}
	if !m.Snapshot().Subscribed {
		m.log.Debug().Str("notification_id", msg.NotificationID).Msg("ignoring push while unsubscribed")
		return
	}
	ctx := m.eventCtx
	if err := m.refreshUnread(ctx); err != nil {
		m.log.Warn().Err(err).Msg("refresh unread count after push")
	}
	if err := m.loadNotifications(ctx); err != nil {
		m.log.Warn().Err(err).Msg("reload notifications after push")
	}
}

// DefaultDeviceInfo describes the current process.
func DefaultDeviceInfo() domain.DeviceInfo {
	lang := os.Getenv("LANG")
	if i := strings.IndexAny(lang, ".@"); i >= 0 {
		lang = lang[:i]
	}
	if lang == "C" || lang == "POSIX" {
		lang = ""
	}
	return domain.DeviceInfo{
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		UserAgent: "gymbell",
		Language:  strings.ReplaceAll(lang, "_", "-"),
	}
}
