// Package local implements host.Runtime for a terminal process. What a
// browser would keep in its profile (permission, the push subscription and
// its keys) is kept in a JSON file in the data dir. The worker lives in
// process and is always active; messages reach it through Deliver.
package local

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gymbell/gymbell/internal/host"
	"github.com/gymbell/gymbell/internal/logging"
)

const authSecretSize = 16

var (
	// ErrPermissionNotGranted is returned by Subscribe without permission.
	ErrPermissionNotGranted = errors.New("notification permission not granted")
	// ErrKeyMismatch is returned when subscribing with a different
	// application server key while a subscription exists.
	ErrKeyMismatch = errors.New("a subscription with a different application server key already exists")
	// ErrSilentPush is returned when UserVisibleOnly is not set.
	ErrSilentPush = errors.New("silent push is not supported")
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithPrompter sets how permission is asked for. Defaults to HuhPrompter.
func WithPrompter(p Prompter) Option {
	return func(r *Runtime) { r.prompter = p }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// Runtime is a host.Runtime backed by a state file.
type Runtime struct {
	path        string
	pushBaseURL string
	prompter    Prompter
	log         zerolog.Logger
	now         func() time.Time

	mu    sync.Mutex
	state stateFile

	hmu  sync.Mutex
	next int
	ctrl map[int]func()
	msgs map[int]func(host.Message)
}

var _ host.Runtime = (*Runtime)(nil)

// New loads the runtime state from dataDir. Subscriptions get endpoints
// under pushBaseURL; without one the runtime reports itself unsupported.
func New(dataDir, pushBaseURL string, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		path:        filepath.Join(dataDir, StateFileName),
		pushBaseURL: strings.TrimRight(pushBaseURL, "/"),
		prompter:    HuhPrompter{},
		log:         logging.Component("host"),
		now:         time.Now,
		ctrl:        make(map[int]func()),
		msgs:        make(map[int]func(host.Message)),
	}
	for _, opt := range opts {
		opt(r)
	}

	state, err := load(r.path)
	if err != nil {
		return nil, fmt.Errorf("local.New: load %s: %w", r.path, err)
	}
	r.state = state
	return r, nil
}

// Path returns the state file path.
func (r *Runtime) Path() string { return r.path }

func (r *Runtime) Supported() bool {
	return r.pushBaseURL != ""
}

func (r *Runtime) Permission() host.Permission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Permission
}

// RequestPermission prompts only while permission is undecided. A denial
// sticks until ResetPermission.
func (r *Runtime) RequestPermission(ctx context.Context) (host.Permission, error) {
	current := r.Permission()
	if current != host.PermissionDefault {
		return current, nil
	}

	ok, err := r.prompter.Confirm(ctx,
		"Allow gym notifications?",
		"Class reminders, workout updates and membership notices will be pushed to this device.")
	if err != nil {
		return current, err
	}

	perm := host.PermissionDenied
	if ok {
		perm = host.PermissionGranted
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Permission = perm
	if err := save(r.path, r.state); err != nil {
		return perm, fmt.Errorf("local.RequestPermission: %w", err)
	}
	r.log.Info().Str("permission", string(perm)).Msg("permission decided")
	return perm, nil
}

// ResetPermission returns permission to undecided. Like revoking it in a
// browser, this drops the subscription.
func (r *Runtime) ResetPermission() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Permission = host.PermissionDefault
	r.state.Subscription = nil
	if err := save(r.path, r.state); err != nil {
		return fmt.Errorf("local.ResetPermission: %w", err)
	}
	return nil
}

func (r *Runtime) Registration(ctx context.Context) (host.Registration, error) {
	if !r.Supported() {
		return nil, nil
	}
	return registration{r: r}, nil
}

func (r *Runtime) OnControllerChange(fn func()) func() {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	id := r.next
	r.next++
	r.ctrl[id] = fn
	return func() {
		r.hmu.Lock()
		defer r.hmu.Unlock()
		delete(r.ctrl, id)
	}
}

func (r *Runtime) OnMessage(fn func(host.Message)) func() {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	id := r.next
	r.next++
	r.msgs[id] = fn
	return func() {
		r.hmu.Lock()
		defer r.hmu.Unlock()
		delete(r.msgs, id)
	}
}

// Reload re-reads the state file, picking up changes made by another
// process, and notifies controller-change handlers.
func (r *Runtime) Reload() error {
	state, err := load(r.path)
	if err != nil {
		return fmt.Errorf("local.Reload: %w", err)
	}
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	r.hmu.Lock()
	fns := make([]func(), 0, len(r.ctrl))
	for _, fn := range r.ctrl {
		fns = append(fns, fn)
	}
	r.hmu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// Deliver hands msg to every message handler, as the worker would after
// receiving a push.
func (r *Runtime) Deliver(msg host.Message) {
	r.hmu.Lock()
	fns := make([]func(host.Message), 0, len(r.msgs))
	for _, fn := range r.msgs {
		fns = append(fns, fn)
	}
	r.hmu.Unlock()

	r.log.Debug().Str("type", msg.Type).Str("notification_id", msg.NotificationID).Msg("delivering message")
	for _, fn := range fns {
		fn(msg)
	}
}

// registration is the in-process worker. It is active from the start.
type registration struct {
	r *Runtime
}

func (g registration) State() host.WorkerState { return host.WorkerActivated }

func (g registration) WaitActivated(ctx context.Context) error { return nil }

func (g registration) PushManager() host.PushManager { return pushManager{r: g.r} }

type pushManager struct {
	r *Runtime
}

func (p pushManager) Subscription(ctx context.Context) (host.Subscription, error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	stored := p.r.state.Subscription
	if stored == nil {
		return nil, nil
	}
	// A subscription whose keys cannot decrypt a push is as good as gone.
	if _, err := stored.privateKey(); err != nil {
		p.r.log.Warn().Err(err).Str("endpoint", stored.Endpoint).Msg("ignoring corrupt subscription")
		return nil, nil
	}
	return &subscription{r: p.r, stored: *stored}, nil
}

// Subscribe creates a subscription with a fresh P-256 key pair and auth
// secret. An existing subscription is returned as-is when it was made for
// the same application server key. A corrupt one is replaced.
func (p pushManager) Subscribe(ctx context.Context, opts host.SubscribeOptions) (host.Subscription, error) {
	if !opts.UserVisibleOnly {
		return nil, ErrSilentPush
	}
	if err := host.ValidateP256Key(opts.ApplicationServerKey); err != nil {
		return nil, err
	}
	appKey := host.EncodeKey(opts.ApplicationServerKey)

	r := p.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Permission != host.PermissionGranted {
		return nil, ErrPermissionNotGranted
	}
	if existing := r.state.Subscription; existing != nil {
		if _, err := existing.privateKey(); err != nil {
			r.log.Warn().Err(err).Str("endpoint", existing.Endpoint).Msg("replacing corrupt subscription")
		} else if existing.ApplicationServerKey != appKey {
			return nil, ErrKeyMismatch
		} else {
			return &subscription{r: r, stored: *existing}, nil
		}
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("local.Subscribe: generate key: %w", err)
	}
	secret := make([]byte, authSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("local.Subscribe: generate auth secret: %w", err)
	}

	stored := storedSubscription{
		Endpoint:             r.pushBaseURL + "/" + uuid.NewString(),
		P256dh:               host.EncodeKey(priv.PublicKey().Bytes()),
		Auth:                 host.EncodeKey(secret),
		ApplicationServerKey: appKey,
		PrivateKey:           host.EncodeKey(priv.Bytes()),
		CreatedAt:            r.now().UTC(),
	}
	r.state.Subscription = &stored
	if err := save(r.path, r.state); err != nil {
		r.state.Subscription = nil
		return nil, fmt.Errorf("local.Subscribe: %w", err)
	}
	r.log.Info().Str("endpoint", stored.Endpoint).Msg("subscription created")
	return &subscription{r: r, stored: stored}, nil
}

type subscription struct {
	r      *Runtime
	stored storedSubscription
}

func (s *subscription) Endpoint() string { return s.stored.Endpoint }

func (s *subscription) Key(name string) []byte {
	var encoded string
	switch name {
	case host.KeyP256dh:
		encoded = s.stored.P256dh
	case host.KeyAuth:
		encoded = s.stored.Auth
	default:
		return nil
	}
	raw, err := host.DecodeApplicationServerKey(encoded)
	if err != nil {
		return nil
	}
	return raw
}

// Unsubscribe removes the subscription from the state file. It reports
// false when the stored subscription is already gone or was replaced.
func (s *subscription) Unsubscribe(ctx context.Context) (bool, error) {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.state.Subscription
	if current == nil || current.Endpoint != s.stored.Endpoint {
		return false, nil
	}
	r.state.Subscription = nil
	if err := save(r.path, r.state); err != nil {
		r.state.Subscription = current
		return false, fmt.Errorf("local.Unsubscribe: %w", err)
	}
	r.log.Info().Str("endpoint", s.stored.Endpoint).Msg("subscription removed")
	return true, nil
}

// privateKey decodes the subscription's decryption key and checks that it
// belongs to the advertised public key.
func (s storedSubscription) privateKey() (*ecdh.PrivateKey, error) {
	raw, err := host.DecodeApplicationServerKey(s.PrivateKey)
	if err != nil {
		return nil, err
	}
	key, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, err
	}
	if host.EncodeKey(key.PublicKey().Bytes()) != s.P256dh {
		return nil, errors.New("stored key pair does not match")
	}
	return key, nil
}
