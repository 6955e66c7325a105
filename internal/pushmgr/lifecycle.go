package pushmgr

import (
	"context"
	"errors"

	"github.com/gymbell/gymbell/internal/host"
	"github.com/gymbell/gymbell/pkg/client"
	"github.com/gymbell/gymbell/pkg/domain"
)

var errMissingKeys = errors.New("subscription is missing p256dh or auth")

// RequestPermission prompts the user for notification permission. It
// reports whether permission is granted; a denial is also returned as a
// PermissionDenied error.
func (m *Manager) RequestPermission(ctx context.Context) (bool, error) {
	done := m.begin(true)
	defer done()

	if !m.Snapshot().Supported {
		return false, m.fail(newError(KindUnsupported, "", nil))
	}

	perm, err := m.rt.RequestPermission(ctx)
	granted := err == nil && perm == host.PermissionGranted
	m.update(func() { m.permissionGranted = granted })
	if err != nil {
		return false, m.fail(newError(KindPermissionDenied, "", err))
	}
	if !granted {
		return false, m.fail(newError(KindPermissionDenied, "", nil))
	}
	m.log.Info().Msg("notification permission granted")
	return true, nil
}

// Subscribe creates a push subscription and registers it with the backend.
// A call made while another Subscribe is running shares that call's result.
func (m *Manager) Subscribe(ctx context.Context) error {
	_, err, shared := m.flight.Do("subscribe", func() (any, error) {
		m.lifecycle.Lock()
		defer m.lifecycle.Unlock()
		if e := m.subscribe(ctx); e != nil {
			return nil, e
		}
		return nil, nil
	})
	if shared {
		m.log.Debug().Msg("joined in-flight subscribe")
	}
	return err
}

func (m *Manager) subscribe(ctx context.Context) *Error {
	done := m.begin(true)
	defer done()

	s := m.Snapshot()
	if !s.Supported {
		return m.fail(newError(KindNotSupported, "", nil))
	}
	if !s.PermissionGranted {
		return m.fail(newError(KindPermissionRequired, "", nil))
	}

	// The cached WorkerReady flag can be stale; check the live registration.
	reg, err := m.readyRegistration(ctx)
	m.setWorkerReady(err == nil)
	if err != nil {
		return m.fail(newError(KindWorkerUnavailable, "", err))
	}

	key, err := m.be.VAPIDPublicKey(ctx)
	if err != nil {
		return m.fail(newError(KindKeyFetch, client.MessageOf(err), err))
	}
	appKey, err := host.DecodeApplicationServerKey(key)
	if err != nil {
		return m.fail(newError(KindKeyFetch, "", err))
	}

	pm := reg.PushManager()
	m.cleanup(ctx, pm)

	sub, err := pm.Subscribe(ctx, host.SubscribeOptions{
		UserVisibleOnly:      true,
		ApplicationServerKey: appKey,
	})
	if err != nil {
		return m.fail(newError(KindSubscribeFailed, "", err))
	}

	p256dh, auth := sub.Key(host.KeyP256dh), sub.Key(host.KeyAuth)
	if len(p256dh) == 0 || len(auth) == 0 {
		// The host-side subscription stays; the next Subscribe cleans it up.
		return m.fail(newError(KindMalformedSubscription, "", errMissingKeys))
	}

	device := *m.device
	payload := domain.PushSubscription{
		Endpoint: sub.Endpoint(),
		Keys: domain.PushKeys{
			P256dh: host.EncodeKey(p256dh),
			Auth:   host.EncodeKey(auth),
		},
		DeviceInfo: &device,
	}
	if err := m.be.SubscribePush(ctx, payload); err != nil {
		return m.fail(newError(KindBackendRejected, client.MessageOf(err), err))
	}

	m.update(func() {
		m.subscribed = true
		m.handle = sub
		m.lastErr = nil
	})
	m.log.Info().Str("endpoint", sub.Endpoint()).Msg("push subscription registered")

	if err := m.refreshUnread(ctx); err != nil {
		m.log.Warn().Err(err).Msg("refresh unread count after subscribe")
	}
	return nil
}

// cleanup cancels whatever subscription exists before a new one is made.
// Failures are logged and otherwise ignored.
func (m *Manager) cleanup(ctx context.Context, pm host.PushManager) {
	local := m.Handle()
	if local != nil {
		if _, err := local.Unsubscribe(ctx); err != nil {
			m.log.Warn().Err(err).Str("endpoint", local.Endpoint()).Msg("cancel previous subscription")
		}
	}

	existing, err := pm.Subscription(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("look up existing subscription")
	} else if existing != nil && existing != local {
		if _, err := existing.Unsubscribe(ctx); err != nil {
			m.log.Warn().Err(err).Str("endpoint", existing.Endpoint()).Msg("cancel stale subscription")
		}
	}

	m.update(func() {
		m.subscribed = false
		m.handle = nil
	})
}

// Unsubscribe cancels the subscription on the host and deregisters it with
// the backend. It returns (false, nil) when there is nothing to cancel.
// Whatever happens, local state ends up unsubscribed with an empty inbox.
func (m *Manager) Unsubscribe(ctx context.Context) (bool, error) {
	v, err, _ := m.flight.Do("unsubscribe", func() (any, error) {
		m.lifecycle.Lock()
		defer m.lifecycle.Unlock()
		ok, e := m.unsubscribe(ctx)
		if e != nil {
			return false, e
		}
		return ok, nil
	})
	ok, _ := v.(bool)
	return ok, err
}

func (m *Manager) unsubscribe(ctx context.Context) (bool, *Error) {
	sub := m.Handle()
	if sub == nil {
		return false, nil
	}

	done := m.begin(true)
	defer done()

	endpoint := sub.Endpoint()
	_, cancelErr := sub.Unsubscribe(ctx)
	backendErr := m.be.UnsubscribePush(ctx, endpoint)

	m.update(func() {
		m.subscribed = false
		m.handle = nil
		m.notifications = []domain.Notification{}
		m.unread = 0
	})

	if err := errors.Join(cancelErr, backendErr); err != nil {
		return false, m.fail(newError(KindUnsubscribe, "", err))
	}
	m.log.Info().Str("endpoint", endpoint).Msg("push subscription removed")
	return true, nil
}

// SendTestNotification asks the backend to push a test notification to
// this subscription.
func (m *Manager) SendTestNotification(ctx context.Context) error {
	done := m.begin(true)
	defer done()

	if !m.Snapshot().Subscribed {
		return m.fail(newError(KindNotSubscribed, "", nil))
	}
	if err := m.be.SendTestPush(ctx); err != nil {
		return m.fail(newError(KindBackendRejected, client.MessageOf(err), err))
	}

	if err := m.refreshUnread(ctx); err != nil {
		m.log.Warn().Err(err).Msg("refresh unread count after test push")
	}
	return nil
}
