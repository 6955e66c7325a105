package pushmgr

import "errors"

// ErrorKind classifies a failed operation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindUnsupported: the host lacks workers, push or notifications.
	KindUnsupported
	// KindPermissionDenied: the user declined the permission prompt.
	KindPermissionDenied
	// KindPermissionRequired: subscribe was called before permission was granted.
	KindPermissionRequired
	// KindWorkerUnavailable: the worker did not activate within the retry budget.
	KindWorkerUnavailable
	// KindKeyFetch: the VAPID public key could not be fetched or decoded.
	KindKeyFetch
	// KindSubscribeFailed: the push manager refused to create a subscription.
	KindSubscribeFailed
	// KindMalformedSubscription: the new subscription lacks p256dh or auth.
	KindMalformedSubscription
	// KindBackendRejected: the backend refused a subscribe or test request.
	KindBackendRejected
	// KindUnsubscribe: cancelling or deregistering failed; local state is off regardless.
	KindUnsubscribe
	// KindNotSubscribed: the operation needs an active subscription.
	KindNotSubscribed
	// KindNotSupported: subscribe was called in an unsupported host.
	KindNotSupported
	// KindRequestFailed: an inbox request (list, mark, count) failed.
	KindRequestFailed
)

var kindNames = map[ErrorKind]string{
	KindUnknown:               "unknown",
	KindUnsupported:           "unsupported",
	KindPermissionDenied:      "permission_denied",
	KindPermissionRequired:    "permission_required",
	KindWorkerUnavailable:     "worker_unavailable",
	KindKeyFetch:              "key_fetch",
	KindSubscribeFailed:       "subscribe_failed",
	KindMalformedSubscription: "malformed_subscription",
	KindBackendRejected:       "backend_rejected",
	KindUnsubscribe:           "unsubscribe",
	KindNotSubscribed:         "not_subscribed",
	KindNotSupported:          "not_supported",
	KindRequestFailed:         "request_failed",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var defaultMessages = map[ErrorKind]string{
	KindUnsupported:           "push notifications are not supported on this device",
	KindPermissionDenied:      "notification permission was denied",
	KindPermissionRequired:    "notification permission has not been granted",
	KindWorkerUnavailable:     "notification worker is not ready, please try again",
	KindKeyFetch:              "could not get the push key from the server",
	KindSubscribeFailed:       "could not create a push subscription",
	KindMalformedSubscription: "push subscription is missing its encryption keys",
	KindBackendRejected:       "the server rejected the request",
	KindUnsubscribe:           "could not fully disable push notifications",
	KindNotSubscribed:         "push notifications are not enabled",
	KindNotSupported:          "push notifications are not supported on this device",
	KindRequestFailed:         "could not reach the notification service",
}

// Error is the failure of a manager operation. The same value is returned
// to the caller and kept as the state's LastError.
type Error struct {
	Kind ErrorKind
	// Message is human readable. It carries the backend's own message
	// verbatim where one was available.
	Message string
	Err     error
}

func newError(kind ErrorKind, message string, err error) *Error {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnsupported           = &Error{Kind: KindUnsupported}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrPermissionRequired    = &Error{Kind: KindPermissionRequired}
	ErrWorkerUnavailable     = &Error{Kind: KindWorkerUnavailable}
	ErrKeyFetch              = &Error{Kind: KindKeyFetch}
	ErrSubscribeFailed       = &Error{Kind: KindSubscribeFailed}
	ErrMalformedSubscription = &Error{Kind: KindMalformedSubscription}
	ErrBackendRejected       = &Error{Kind: KindBackendRejected}
	ErrUnsubscribe           = &Error{Kind: KindUnsubscribe}
	ErrNotSubscribed         = &Error{Kind: KindNotSubscribed}
	ErrNotSupported          = &Error{Kind: KindNotSupported}
	ErrRequestFailed         = &Error{Kind: KindRequestFailed}
)

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
