package pushmgr

import (
	"context"
	"slices"

	"github.com/gymbell/gymbell/pkg/client"
	"github.com/gymbell/gymbell/pkg/domain"
)

// LoadNotifications replaces the cached inbox with the first page from the
// backend. It does nothing while unsubscribed.
func (m *Manager) LoadNotifications(ctx context.Context) error {
	if !m.Snapshot().Subscribed {
		return nil
	}
	done := m.begin(false)
	defer done()

	if err := m.loadNotifications(ctx); err != nil {
		return m.fail(newError(KindRequestFailed, client.MessageOf(err), err))
	}
	return nil
}

func (m *Manager) loadNotifications(ctx context.Context) error {
	list, err := m.be.ListNotifications(ctx, 1, m.pageSize)
	if err != nil {
		return err
	}
	list = slices.Clone(list)
	if list == nil {
		list = []domain.Notification{}
	}
	for _, n := range list {
		if err := n.Validate(); err != nil {
			m.log.Warn().Err(err).Str("notification_id", n.ID).Msg("inconsistent notification from backend")
		}
	}
	// An unsubscribe may have finished while the request was out.
	m.update(func() {
		if m.subscribed {
			m.notifications = list
		}
	})
	m.log.Debug().Int("count", len(list)).Msg("notifications loaded")
	return nil
}

// MarkAsRead marks ids read on the backend and in the cache, then refreshes
// the unread count from the backend. Records outside the cached page may be
// among ids, so the count is never derived locally here.
func (m *Manager) MarkAsRead(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	done := m.begin(false)
	defer done()

	if err := m.be.MarkRead(ctx, ids); err != nil {
		return m.fail(newError(KindRequestFailed, client.MessageOf(err), err))
	}

	at := m.now()
	m.update(func() {
		next := slices.Clone(m.notifications)
		for i := range next {
			if slices.Contains(ids, next[i].ID) {
				next[i].MarkRead(at)
			}
		}
		m.notifications = next
	})

	if err := m.refreshUnread(ctx); err != nil {
		return m.fail(newError(KindRequestFailed, client.MessageOf(err), err))
	}
	return nil
}

// MarkAllAsRead marks everything read on the backend, then marks the whole
// cache read and sets the unread count to zero without asking the backend.
func (m *Manager) MarkAllAsRead(ctx context.Context) error {
	done := m.begin(false)
	defer done()

	if err := m.be.MarkAllRead(ctx); err != nil {
		return m.fail(newError(KindRequestFailed, client.MessageOf(err), err))
	}

	at := m.now()
	m.update(func() {
		next := slices.Clone(m.notifications)
		for i := range next {
			next[i].MarkRead(at)
		}
		m.notifications = next
		m.unread = 0
	})
	return nil
}

// RefreshUnreadCount overwrites the unread count with the backend's. It
// does nothing while unsubscribed.
func (m *Manager) RefreshUnreadCount(ctx context.Context) error {
	if !m.Snapshot().Subscribed {
		return nil
	}
	done := m.begin(false)
	defer done()

	if err := m.refreshUnread(ctx); err != nil {
		return m.fail(newError(KindRequestFailed, client.MessageOf(err), err))
	}
	return nil
}

func (m *Manager) refreshUnread(ctx context.Context) error {
	n, err := m.be.UnreadCount(ctx)
	if err != nil {
		return err
	}
	m.update(func() {
		if m.subscribed {
			m.unread = n
		}
	})
	return nil
}
