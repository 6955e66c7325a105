package hosttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/gymbell/gymbell/internal/host"
)

// PushManager is a fake host.PushManager.
type PushManager struct {
	mu sync.Mutex

	endpoint string
	minted   int

	Existing        *Subscription
	SubscriptionErr error
	SubscribeErr    error
	// OmitKeys lists key names left out of minted subscriptions.
	OmitKeys []string
	// UnsubscribeErr is copied onto every minted subscription.
	UnsubscribeErr error

	Subscribes  int
	LastOptions host.SubscribeOptions
}

var _ host.PushManager = (*PushManager)(nil)

// NewPushManager mints subscriptions at endpoint; from the second one on a
// counter suffix keeps endpoints distinct.
func NewPushManager(endpoint string) *PushManager {
	return &PushManager{endpoint: endpoint}
}

func (p *PushManager) Subscription(ctx context.Context) (host.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SubscriptionErr != nil {
		return nil, p.SubscriptionErr
	}
	if p.Existing == nil {
		return nil, nil
	}
	return p.Existing, nil
}

func (p *PushManager) Subscribe(ctx context.Context, opts host.SubscribeOptions) (host.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Subscribes++
	p.LastOptions = opts
	if p.SubscribeErr != nil {
		return nil, p.SubscribeErr
	}

	endpoint := p.endpoint
	if p.minted > 0 {
		endpoint = fmt.Sprintf("%s-%d", p.endpoint, p.minted)
	}
	p.minted++

	keys := map[string][]byte{
		host.KeyP256dh: {0x04, 0x01, 0x02, 0x03},
		host.KeyAuth:   {0x0a, 0x0b, 0x0c, 0x0d},
	}
	for _, name := range p.OmitKeys {
		delete(keys, name)
	}

	sub := &Subscription{endpoint: endpoint, keys: keys, pm: p, UnsubscribeErr: p.UnsubscribeErr}
	p.Existing = sub
	return sub, nil
}

// Current returns the subscription the push manager currently holds.
func (p *PushManager) Current() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Existing
}

// Subscription is a fake host.Subscription.
type Subscription struct {
	endpoint string
	keys     map[string][]byte
	pm       *PushManager

	mu             sync.Mutex
	UnsubscribeErr error
	Unsubscribed   bool
}

var _ host.Subscription = (*Subscription)(nil)

// NewSubscription returns a subscription with both keys set.
func NewSubscription(endpoint string) *Subscription {
	return &Subscription{
		endpoint: endpoint,
		keys: map[string][]byte{
			host.KeyP256dh: {0x04, 0x09},
			host.KeyAuth:   {0x01},
		},
	}
}

func (s *Subscription) Endpoint() string { return s.endpoint }

func (s *Subscription) Key(name string) []byte {
	return s.keys[name]
}

func (s *Subscription) Unsubscribe(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UnsubscribeErr != nil {
		return false, s.UnsubscribeErr
	}
	if s.Unsubscribed {
		return false, nil
	}
	s.Unsubscribed = true
	if s.pm != nil {
		s.pm.mu.Lock()
		if s.pm.Existing == s {
			s.pm.Existing = nil
		}
		s.pm.mu.Unlock()
	}
	return true, nil
}

// WasUnsubscribed reports whether Unsubscribe succeeded.
func (s *Subscription) WasUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Unsubscribed
}

// Seed installs an existing subscription at endpoint, as if a previous
// session had subscribed.
func (p *PushManager) Seed(endpoint string) *Subscription {
	sub := NewSubscription(endpoint)
	sub.pm = p
	p.mu.Lock()
	p.Existing = sub
	p.mu.Unlock()
	return sub
}
