package pushmgr

import (
	"context"
	"slices"
	"sync"

	"github.com/gymbell/gymbell/pkg/domain"
)

// fakeBackend records every call and returns canned results.
type fakeBackend struct {
	mu sync.Mutex

	key   string
	list  []domain.Notification
	count int

	keyErr         error
	subscribeErr   error
	unsubscribeErr error
	testErr        error
	listErr        error
	markErr        error
	markAllErr     error
	countErr       error

	// gate, when set, holds SubscribePush until it is closed.
	gate chan struct{}

	calls        map[string]int
	subscribed   []domain.PushSubscription
	unsubscribed []string
	marked       [][]string
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{key: "BEXAMPLEKEY", calls: map[string]int{}}
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeBackend) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) setCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = n
}

func (f *fakeBackend) VAPIDPublicKey(ctx context.Context) (string, error) {
	f.record("VAPIDPublicKey")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key, f.keyErr
}

func (f *fakeBackend) SubscribePush(ctx context.Context, sub domain.PushSubscription) error {
	f.record("SubscribePush")
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, sub)
	return nil
}

func (f *fakeBackend) UnsubscribePush(ctx context.Context, endpoint string) error {
	f.record("UnsubscribePush")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, endpoint)
	return f.unsubscribeErr
}

func (f *fakeBackend) SendTestPush(ctx context.Context) error {
	f.record("SendTestPush")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testErr
}

func (f *fakeBackend) ListNotifications(ctx context.Context, page, limit int) ([]domain.Notification, error) {
	f.record("ListNotifications")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return slices.Clone(f.list), nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, ids []string) error {
	f.record("MarkRead")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, slices.Clone(ids))
	return nil
}

func (f *fakeBackend) MarkAllRead(ctx context.Context) error {
	f.record("MarkAllRead")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markAllErr
}

func (f *fakeBackend) UnreadCount(ctx context.Context) (int, error) {
	f.record("UnreadCount")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.countErr
}
