// Package host describes the environment a push subscription lives in: a
// background worker that receives pushes, the push manager it exposes, the
// notification permission model, and the worker-to-client message channel.
//
// The manager in internal/pushmgr only ever talks to these interfaces. The
// local package provides an implementation for a terminal process and
// hosttest a scriptable fake.
package host

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Permission mirrors the host notification-permission flag.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// WorkerState is the lifecycle state of a background worker registration.
type WorkerState string

const (
	WorkerInstalling WorkerState = "installing"
	WorkerInstalled  WorkerState = "installed"
	WorkerActivating WorkerState = "activating"
	WorkerActivated  WorkerState = "activated"
	WorkerRedundant  WorkerState = "redundant"
)

// Pending reports whether the worker may still reach WorkerActivated.
func (s WorkerState) Pending() bool {
	switch s {
	case WorkerInstalling, WorkerInstalled, WorkerActivating:
		return true
	}
	return false
}

// Key names carried by a push subscription.
const (
	KeyP256dh = "p256dh"
	KeyAuth   = "auth"
)

// MessageNotification is the message type a worker posts when a push
// produced a new notification.
const MessageNotification = "notification"

// Message is posted by the worker to the client.
type Message struct {
	Type           string          `json:"type"`
	NotificationID string          `json:"notificationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Runtime is the host environment.
type Runtime interface {
	// Supported reports whether the environment has workers, push and
	// notifications at all.
	Supported() bool
	// Permission returns the current permission without prompting.
	Permission() Permission
	// RequestPermission prompts the user. It may block until they answer.
	RequestPermission(ctx context.Context) (Permission, error)
	// Registration returns the worker registration, or nil when none exists.
	Registration(ctx context.Context) (Registration, error)
	// OnControllerChange registers fn for worker controller changes and
	// returns a func that unregisters it.
	OnControllerChange(fn func()) (release func())
	// OnMessage registers fn for messages from the worker and returns a
	// func that unregisters it.
	OnMessage(fn func(Message)) (release func())
}

// Registration is a background worker registration.
type Registration interface {
	State() WorkerState
	// WaitActivated blocks until the worker is activated, it becomes
	// redundant, or ctx is done.
	WaitActivated(ctx context.Context) error
	PushManager() PushManager
}

// SubscribeOptions configures a new push subscription.
type SubscribeOptions struct {
	// UserVisibleOnly forbids silent pushes.
	UserVisibleOnly bool
	// ApplicationServerKey is the raw VAPID public key.
	ApplicationServerKey []byte
}

// PushManager creates and looks up push subscriptions for a registration.
type PushManager interface {
	// Subscription returns the existing subscription, or nil when none exists.
	Subscription(ctx context.Context) (Subscription, error)
	Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error)
}

// Subscription is a live push subscription.
type Subscription interface {
	Endpoint() string
	// Key returns the raw key bytes for name, or nil when absent.
	Key(name string) []byte
	// Unsubscribe cancels the subscription. It reports false when there
	// was nothing to cancel.
	Unsubscribe(ctx context.Context) (bool, error)
}

// ErrWorkerRedundant is returned by WaitActivated when the worker was
// replaced before it activated.
var ErrWorkerRedundant = errors.New("worker became redundant")

// ErrInvalidKey is returned for application-server keys that cannot be
// used to create a subscription.
var ErrInvalidKey = errors.New("invalid application server key")

// DecodeApplicationServerKey converts a base64url VAPID public key, with or
// without padding, into raw bytes. It does not check the key's shape; the
// push manager that consumes it does.
func DecodeApplicationServerKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "=")
	// Some backends hand out standard base64.
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return raw, nil
}

// ValidateP256Key checks that raw is a 65-byte uncompressed P-256 point.
func ValidateP256Key(raw []byte) error {
	if len(raw) != 65 || raw[0] != 0x04 {
		return fmt.Errorf("%w: want 65-byte uncompressed point, got %d bytes", ErrInvalidKey, len(raw))
	}
	return nil
}

// EncodeKey encodes raw key bytes the way subscriptions serialize them.
func EncodeKey(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
