package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gymbell/gymbell/internal/pushmgr"
	"github.com/gymbell/gymbell/pkg/domain"
)

var testNow = time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)

// fakeManager records calls and serves a fixed state.
type fakeManager struct {
	mu    sync.Mutex
	state pushmgr.State
	calls []string
	err   error
	read  []string
}

func (f *fakeManager) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeManager) Snapshot() pushmgr.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeManager) RequestPermission(ctx context.Context) (bool, error) {
	if err := f.record("RequestPermission"); err != nil {
		return false, err
	}
	f.mu.Lock()
	f.state.PermissionGranted = true
	f.mu.Unlock()
	return true, nil
}

func (f *fakeManager) Subscribe(ctx context.Context) error {
	if err := f.record("Subscribe"); err != nil {
		return err
	}
	f.mu.Lock()
	f.state.Subscribed = true
	f.state.Endpoint = "https://push.example/ep1"
	f.mu.Unlock()
	return nil
}

func (f *fakeManager) Unsubscribe(ctx context.Context) (bool, error) {
	if err := f.record("Unsubscribe"); err != nil {
		return false, err
	}
	f.mu.Lock()
	f.state.Subscribed = false
	f.state.Endpoint = ""
	f.mu.Unlock()
	return true, nil
}

func (f *fakeManager) SendTestNotification(ctx context.Context) error {
	return f.record("SendTestNotification")
}

func (f *fakeManager) LoadNotifications(ctx context.Context) error {
	return f.record("LoadNotifications")
}

func (f *fakeManager) MarkAsRead(ctx context.Context, ids ...string) error {
	f.mu.Lock()
	f.read = append(f.read, ids...)
	f.mu.Unlock()
	return f.record("MarkAsRead")
}

func (f *fakeManager) MarkAllAsRead(ctx context.Context) error {
	return f.record("MarkAllAsRead")
}

func (f *fakeManager) RefreshUnreadCount(ctx context.Context) error {
	return f.record("RefreshUnreadCount")
}

func (f *fakeManager) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func makeTestNotification(id, title string, typ domain.NotificationType, read bool) domain.Notification {
	n := domain.Notification{
		ID:        id,
		Title:     title,
		Message:   "details for " + title,
		Type:      typ,
		Status:    domain.StatusSent,
		CreatedAt: testNow.Add(-90 * time.Minute),
	}
	if read {
		n.MarkRead(testNow.Add(-time.Hour))
	}
	return n
}

func subscribedState() pushmgr.State {
	return pushmgr.State{
		Supported:         true,
		PermissionGranted: true,
		WorkerReady:       true,
		Subscribed:        true,
		Endpoint:          "https://push.example/ep1",
		UnreadCount:       2,
		Notifications: []domain.Notification{
			makeTestNotification("n1", "Leg day tomorrow", domain.TypeWorkout, false),
			makeTestNotification("n2", "10 visits this month", domain.TypeAchievement, false),
			makeTestNotification("n3", "Membership renewed", domain.TypeMembership, true),
		},
	}
}

func newTestApp(state pushmgr.State) (App, *fakeManager) {
	mgr := &fakeManager{state: state}
	a := NewApp(mgr, "https://app.gymbell.test", "dev")
	a.width = 100
	a.height = 30
	a.now = func() time.Time { return testNow }
	return a, mgr
}

func press(t *testing.T, a App, key string) (App, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	model, cmd := a.Update(msg)
	return model.(App), cmd
}

// runOp executes cmd and feeds its message back into the app.
func runOp(t *testing.T, a App, cmd tea.Cmd) App {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command, got nil")
	}
	model, _ := a.Update(cmd())
	return model.(App)
}

func TestAppViewRendersInbox(t *testing.T) {
	a, _ := newTestApp(subscribedState())

	view := a.View()
	for _, want := range []string{"Leg day tomorrow", "10 visits this month", "Membership renewed", "2 unread", "workout", "1h ago"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view, got:\n%s", want, view)
		}
	}
	// Message of the selected row only.
	if !strings.Contains(view, "details for Leg day tomorrow") {
		t.Errorf("expected selected message in view, got:\n%s", view)
	}
	if strings.Contains(view, "details for Membership renewed") {
		t.Errorf("unexpected unselected message in view")
	}
}

func TestAppViewPushOff(t *testing.T) {
	a, _ := newTestApp(pushmgr.State{Supported: true, WorkerReady: true})

	view := a.View()
	if !strings.Contains(view, "press p to turn them on") {
		t.Errorf("expected push-off hint, got:\n%s", view)
	}
}

func TestAppViewUnsupported(t *testing.T) {
	a, _ := newTestApp(pushmgr.State{})

	if !strings.Contains(a.View(), "push unavailable") {
		t.Error("expected unsupported status line")
	}
}

func TestAppViewShowsLastError(t *testing.T) {
	state := subscribedState()
	state.LastError = &pushmgr.Error{Kind: pushmgr.KindBackendRejected, Message: "rate limited"}
	a, _ := newTestApp(state)

	if !strings.Contains(a.View(), "rate limited") {
		t.Error("expected last error in footer")
	}
}

func TestAppCursorNavigation(t *testing.T) {
	a, _ := newTestApp(subscribedState())

	a, _ = press(t, a, "j")
	a, _ = press(t, a, "j")
	a, _ = press(t, a, "j")
	if a.cursor != 2 {
		t.Errorf("expected cursor clamped at 2, got %d", a.cursor)
	}
	a, _ = press(t, a, "k")
	if a.cursor != 1 {
		t.Errorf("expected cursor=1 after k, got %d", a.cursor)
	}
}

func TestAppMarkSelectedRead(t *testing.T) {
	a, mgr := newTestApp(subscribedState())
	a, _ = press(t, a, "j")

	a, cmd := press(t, a, "enter")
	runOp(t, a, cmd)

	if len(mgr.read) != 1 || mgr.read[0] != "n2" {
		t.Errorf("expected MarkAsRead(n2), got %v", mgr.read)
	}
}

func TestAppMarkReadSkipsReadRows(t *testing.T) {
	a, _ := newTestApp(subscribedState())
	a.cursor = 2

	_, cmd := press(t, a, "r")
	if cmd != nil {
		t.Error("expected no command for an already-read row")
	}
}

func TestAppMarkAllRead(t *testing.T) {
	a, mgr := newTestApp(subscribedState())

	a, cmd := press(t, a, "a")
	a = runOp(t, a, cmd)

	calls := mgr.callList()
	if len(calls) != 1 || calls[0] != "MarkAllAsRead" {
		t.Errorf("expected MarkAllAsRead, got %v", calls)
	}
	if a.status != "all caught up" {
		t.Errorf("expected status, got %q", a.status)
	}
}

func TestAppKeysDisabledWhileLoading(t *testing.T) {
	state := subscribedState()
	state.Loading = true
	a, _ := newTestApp(state)

	for _, key := range []string{"enter", "a", "p", "t", "R"} {
		if _, cmd := press(t, a, key); cmd != nil {
			t.Errorf("key %q should be ignored while loading", key)
		}
	}
	if !strings.Contains(a.View(), "working...") {
		t.Error("expected working indicator while loading")
	}
}

func TestAppTogglePushOffWhenSubscribed(t *testing.T) {
	a, mgr := newTestApp(subscribedState())

	a, cmd := press(t, a, "p")
	a = runOp(t, a, cmd)

	if calls := mgr.callList(); len(calls) != 1 || calls[0] != "Unsubscribe" {
		t.Errorf("expected Unsubscribe, got %v", calls)
	}
	if a.state.Subscribed {
		t.Error("expected state refreshed to unsubscribed")
	}
}

func TestAppTogglePushAsksFirst(t *testing.T) {
	a, mgr := newTestApp(pushmgr.State{Supported: true, WorkerReady: true})

	a, cmd := press(t, a, "p")
	if cmd != nil || !a.confirming {
		t.Fatal("expected permission question before enabling")
	}
	if !strings.Contains(a.View(), "Allow gym notifications") {
		t.Error("expected question in view")
	}

	a, cmd = press(t, a, "y")
	a = runOp(t, a, cmd)

	want := []string{"RequestPermission", "Subscribe", "LoadNotifications"}
	calls := mgr.callList()
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if !a.state.Subscribed || a.status != "push notifications on" {
		t.Errorf("expected subscribed with status, got %+v %q", a.state.Subscribed, a.status)
	}
}

func TestAppTogglePushDeclined(t *testing.T) {
	a, mgr := newTestApp(pushmgr.State{Supported: true, WorkerReady: true})

	a, _ = press(t, a, "p")
	a, cmd := press(t, a, "n")

	if cmd != nil || a.confirming {
		t.Error("expected question closed with no command")
	}
	if len(mgr.callList()) != 0 {
		t.Errorf("expected no manager calls, got %v", mgr.callList())
	}
}

func TestAppEnableFailureShowsError(t *testing.T) {
	state := pushmgr.State{Supported: true, PermissionGranted: true}
	a, mgr := newTestApp(state)
	mgr.err = errors.New("notification worker is not ready, please try again")

	a, cmd := press(t, a, "p")
	a = runOp(t, a, cmd)

	if !strings.Contains(a.View(), "not ready") {
		t.Errorf("expected failure in view, got:\n%s", a.View())
	}
}

func TestAppPushUnsupported(t *testing.T) {
	a, _ := newTestApp(pushmgr.State{})

	a, cmd := press(t, a, "p")
	if cmd != nil {
		t.Error("expected no command when unsupported")
	}
	if a.status == "" {
		t.Error("expected a status explaining push is unavailable")
	}
}

func TestAppTestAndReload(t *testing.T) {
	a, mgr := newTestApp(subscribedState())

	a, cmd := press(t, a, "t")
	a = runOp(t, a, cmd)
	_, cmd = press(t, a, "R")
	runOp(t, a, cmd)

	want := []string{"SendTestNotification", "LoadNotifications", "RefreshUnreadCount"}
	if got := mgr.callList(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestAppReloadRefreshesHostFirst(t *testing.T) {
	a, mgr := newTestApp(subscribedState())
	var refreshed int
	a = a.WithHostRefresh(func() error {
		refreshed++
		return mgr.record("HostRefresh")
	})

	_, cmd := press(t, a, "R")
	runOp(t, a, cmd)

	if refreshed != 1 {
		t.Errorf("host refreshed %d times, want 1", refreshed)
	}
	want := []string{"HostRefresh", "LoadNotifications", "RefreshUnreadCount"}
	if got := mgr.callList(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestAppReloadStopsOnHostRefreshError(t *testing.T) {
	a, mgr := newTestApp(subscribedState())
	a = a.WithHostRefresh(func() error { return errors.New("state file unreadable") })

	_, cmd := press(t, a, "R")
	a = runOp(t, a, cmd)

	if got := mgr.callList(); len(got) != 0 {
		t.Errorf("expected no manager calls, got %v", got)
	}
	if !strings.Contains(a.View(), "state file unreadable") {
		t.Errorf("expected refresh error in view, got:\n%s", a.View())
	}
}

func TestAppInitSkipsHostRefresh(t *testing.T) {
	a, _ := newTestApp(subscribedState())
	var refreshed int
	a = a.WithHostRefresh(func() error { refreshed++; return nil })

	a.reload(false)()

	if refreshed != 0 {
		t.Errorf("host refreshed %d times on init, want 0", refreshed)
	}
}

func TestAppStateMsgClampsCursor(t *testing.T) {
	a, _ := newTestApp(subscribedState())
	a.cursor = 2

	model, _ := a.Update(stateMsg{state: pushmgr.State{Supported: true, Subscribed: true}})
	a = model.(App)

	if a.cursor != 0 {
		t.Errorf("expected cursor reset to 0, got %d", a.cursor)
	}
}

func TestAppCopyWithoutSubscription(t *testing.T) {
	a, _ := newTestApp(pushmgr.State{Supported: true})

	a, cmd := press(t, a, "c")
	if cmd != nil {
		t.Error("expected no copy command without an endpoint")
	}
	if a.status != "no subscription to copy" {
		t.Errorf("unexpected status %q", a.status)
	}
}

func TestAppCopyResult(t *testing.T) {
	a, _ := newTestApp(subscribedState())

	model, _ := a.Update(copyResultMsg{})
	if model.(App).status != "endpoint copied" {
		t.Error("expected copied status")
	}
	model, _ = a.Update(copyResultMsg{err: errors.New("no xclip")})
	if !strings.Contains(model.(App).status, "no xclip") {
		t.Error("expected copy error in status")
	}
}

func TestAppHelpOverlay(t *testing.T) {
	a, _ := newTestApp(subscribedState())

	a, _ = press(t, a, "h")
	if !a.helpOpen {
		t.Fatal("expected help open")
	}
	if !strings.Contains(a.View(), "Notification settings") {
		t.Error("expected links in help overlay")
	}
	a, _ = press(t, a, "j")
	if a.helpCursor != 1 {
		t.Errorf("expected helpCursor=1, got %d", a.helpCursor)
	}
	a, _ = press(t, a, "esc")
	if a.helpOpen {
		t.Error("expected help closed after esc")
	}
}

func TestAppQuit(t *testing.T) {
	a, _ := newTestApp(subscribedState())
	_, cmd := press(t, a, "q")
	if cmd == nil {
		t.Fatal("expected quit command on 'q', got nil")
	}
}

func TestAppShimmerFrameIncrements(t *testing.T) {
	a, _ := newTestApp(subscribedState())
	model, cmd := a.Update(shimmerTickMsg(testNow))
	if model.(App).frame != 1 {
		t.Error("expected frame to advance")
	}
	if cmd == nil {
		t.Error("expected next tick")
	}
}

func TestAppViewFitsTerminal(t *testing.T) {
	state := subscribedState()
	for i := 0; i < 40; i++ {
		state.Notifications = append(state.Notifications, makeTestNotification("x", "filler", domain.TypeOther, true))
	}
	a, _ := newTestApp(state)
	a.height = 20

	lines := strings.Count(a.View(), "\n") + 1
	if lines > a.height {
		t.Errorf("view has %d lines, terminal has %d", lines, a.height)
	}
}

func TestNotifierWithoutProgram(t *testing.T) {
	var n Notifier
	// Must not block or panic before a program is attached.
	n.OnChange(pushmgr.State{Supported: true})
}
