// Package tui is the terminal inbox: push status, the unread badge and the
// notification list, driven by a push subscription manager.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gymbell/gymbell/internal/browser"
	"github.com/gymbell/gymbell/internal/pushmgr"
	"github.com/gymbell/gymbell/pkg/domain"
)

// Manager is what the inbox needs from *pushmgr.Manager.
type Manager interface {
	Snapshot() pushmgr.State
	RequestPermission(ctx context.Context) (bool, error)
	Subscribe(ctx context.Context) error
	Unsubscribe(ctx context.Context) (bool, error)
	SendTestNotification(ctx context.Context) error
	LoadNotifications(ctx context.Context) error
	MarkAsRead(ctx context.Context, ids ...string) error
	MarkAllAsRead(ctx context.Context) error
	RefreshUnreadCount(ctx context.Context) error
}

// stateMsg carries a manager snapshot taken after a change.
type stateMsg struct {
	state pushmgr.State
}

// opDoneMsg reports the end of a user-triggered operation.
type opDoneMsg struct {
	op  string
	err error
}

type copyResultMsg struct {
	err error
}

// Notifier forwards manager state changes into a running program. Pass
// its OnChange to pushmgr.WithOnChange before the program exists, then
// Attach the program.
type Notifier struct {
	p atomic.Pointer[tea.Program]
}

// Attach starts forwarding to p.
func (n *Notifier) Attach(p *tea.Program) { n.p.Store(p) }

// OnChange sends s to the attached program, if any.
func (n *Notifier) OnChange(s pushmgr.State) {
	if p := n.p.Load(); p != nil {
		p.Send(stateMsg{state: s})
	}
}

// App is the root Bubbletea model.
type App struct {
	mgr          Manager
	dashboardURL string
	version      string
	hostRefresh  func() error // re-reads host push state, may be nil

	state      pushmgr.State
	cursor     int
	confirming bool // permission question is showing
	helpOpen   bool
	helpCursor int
	status     string // last operation outcome
	width      int
	height     int
	frame      int // logo shimmer animation frame
	now        func() time.Time
}

// NewApp creates a new TUI application.
func NewApp(mgr Manager, dashboardURL, version string) App {
	a := App{
		mgr:          mgr,
		dashboardURL: strings.TrimRight(dashboardURL, "/"),
		version:      version,
		now:          time.Now,
	}
	if mgr != nil {
		a.state = mgr.Snapshot()
	}
	return a
}

// WithHostRefresh makes the reload key re-read the host's push state with
// fn before reloading the inbox.
func (a App) WithHostRefresh(fn func() error) App {
	a.hostRefresh = fn
	return a
}

func (a App) Init() tea.Cmd {
	return tea.Batch(shimmerTickCmd(), a.reload(false))
}

// run executes op against the manager off the event loop.
func (a App) run(name string, op func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{op: name, err: op(context.Background())}
	}
}

func (a App) reload(withHost bool) tea.Cmd {
	mgr := a.mgr
	refresh := a.hostRefresh
	return a.run("reload", func(ctx context.Context) error {
		if withHost && refresh != nil {
			if err := refresh(); err != nil {
				return err
			}
		}
		if err := mgr.LoadNotifications(ctx); err != nil {
			return err
		}
		return mgr.RefreshUnreadCount(ctx)
	})
}

func (a App) togglePush() tea.Cmd {
	mgr := a.mgr
	if a.state.Subscribed {
		return a.run("disable", func(ctx context.Context) error {
			_, err := mgr.Unsubscribe(ctx)
			return err
		})
	}
	return a.run("enable", func(ctx context.Context) error {
		if !mgr.Snapshot().PermissionGranted {
			if _, err := mgr.RequestPermission(ctx); err != nil {
				return err
			}
		}
		if err := mgr.Subscribe(ctx); err != nil {
			return err
		}
		return mgr.LoadNotifications(ctx)
	})
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case shimmerTickMsg:
		a.frame++
		return a, shimmerTickCmd()

	case stateMsg:
		a.setState(msg.state)

	case opDoneMsg:
		if a.mgr != nil {
			a.setState(a.mgr.Snapshot())
		}
		a.status = opStatus(msg.op, msg.err)

	case copyResultMsg:
		if msg.err != nil {
			a.status = "copy failed: " + msg.err.Error()
		} else {
			a.status = "endpoint copied"
		}

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) setState(s pushmgr.State) {
	a.state = s
	if a.cursor >= len(s.Notifications) {
		a.cursor = max(len(s.Notifications)-1, 0)
	}
}

func opStatus(op string, err error) string {
	if err != nil {
		return err.Error()
	}
	switch op {
	case "enable":
		return "push notifications on"
	case "disable":
		return "push notifications off"
	case "test":
		return "test notification sent"
	case "read-all":
		return "all caught up"
	}
	return ""
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if a.helpOpen {
		switch key {
		case "h", "esc":
			a.helpOpen = false
		case "q", "ctrl+c":
			return a, tea.Quit
		case "j", "down":
			if a.helpCursor < len(helpItems)-1 {
				a.helpCursor++
			}
		case "k", "up":
			if a.helpCursor > 0 {
				a.helpCursor--
			}
		case "enter":
			if a.dashboardURL != "" {
				browser.Open(a.dashboardURL + helpItems[a.helpCursor].path) //nolint:errcheck // best-effort browser open
			}
		}
		return a, nil
	}

	if a.confirming {
		switch key {
		case "y", "Y":
			a.confirming = false
			return a, a.togglePush()
		case "n", "N", "esc":
			a.confirming = false
			a.status = "push notifications stay off"
		case "ctrl+c":
			return a, tea.Quit
		}
		return a, nil
	}

	switch key {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "h":
		a.helpOpen = true
		a.helpCursor = 0
		return a, nil
	case "j", "down":
		if a.cursor < len(a.state.Notifications)-1 {
			a.cursor++
		}
		return a, nil
	case "k", "up":
		if a.cursor > 0 {
			a.cursor--
		}
		return a, nil
	case "c":
		endpoint := a.state.Endpoint
		if endpoint == "" {
			a.status = "no subscription to copy"
			return a, nil
		}
		return a, func() tea.Msg {
			return copyResultMsg{err: clipboard.WriteAll(endpoint)}
		}
	case "o":
		if a.dashboardURL == "" {
			a.status = "no dashboard configured"
			return a, nil
		}
		if err := browser.Open(a.dashboardURL); err != nil {
			a.status = "open " + a.dashboardURL
		}
		return a, nil
	}

	// Everything below talks to the manager; hold off while it is busy.
	if a.mgr == nil || a.state.Loading {
		return a, nil
	}

	switch key {
	case "enter", "r":
		if a.cursor < len(a.state.Notifications) {
			n := a.state.Notifications[a.cursor]
			if n.IsRead() {
				return a, nil
			}
			mgr := a.mgr
			return a, a.run("read", func(ctx context.Context) error {
				return mgr.MarkAsRead(ctx, n.ID)
			})
		}
	case "a":
		if a.state.UnreadCount == 0 && domain.CountUnread(a.state.Notifications) == 0 {
			return a, nil
		}
		return a, a.run("read-all", a.mgr.MarkAllAsRead)
	case "p":
		if !a.state.Supported {
			a.status = "push is not available here"
			return a, nil
		}
		if !a.state.Subscribed && !a.state.PermissionGranted {
			a.confirming = true
			return a, nil
		}
		return a, a.togglePush()
	case "t":
		return a, a.run("test", a.mgr.SendTestNotification)
	case "R":
		return a, a.reload(true)
	}
	return a, nil
}

func (a App) View() string {
	logo := renderShimmerLogo(a.frame)
	logoPad := max((a.width-lipgloss.Width(logo))/2, 0)
	header := strings.Repeat(" ", logoPad) + logo

	statusLine := a.statusLine()
	statusPad := max((a.width-lipgloss.Width(statusLine))/2, 0)
	header += "\n" + strings.Repeat(" ", statusPad) + statusLine

	var body, help string
	switch {
	case a.helpOpen:
		body = helpView(a.helpCursor, a.dashboardURL)
		help = " " + helpEntry("j/k", "nav") + "  " + helpEntry("enter", "open") + "  " + helpEntry("esc", "close")
	case a.confirming:
		body = "\n " + selectedStyle.Render("Allow gym notifications on this device?") + "\n\n " +
			dimStyle.Render("Class reminders, workout updates and membership notices will be pushed here.") + "\n"
		help = " " + helpEntry("y", "allow") + "  " + helpEntry("n", "not now")
	default:
		body = a.inboxView()
		help = " " + a.helpKeys()
	}

	// Footer: error or last outcome
	footer := ""
	switch {
	case a.state.LastError != nil:
		footer = " " + rejectStyle.Render(a.state.LastError.Message)
	case a.state.Loading:
		footer = " " + dimStyle.Render("working...")
	case a.status != "":
		footer = " " + accentStyle.Render(a.status)
	}

	// Chrome budget: header(2) + blank(1) + footer(1) + help(1)
	chrome := 5
	body = strings.TrimRight(truncateToHeight(body, a.height-chrome), "\n")

	return fmt.Sprintf("%s\n\n%s\n%s\n%s", header, body, footer, help)
}

func (a App) statusLine() string {
	s := a.state
	if !s.Supported {
		return offStyle.Render("push unavailable on this device")
	}
	parts := []string{
		onOff("push", s.Subscribed),
		onOff("permission", s.PermissionGranted),
		onOff("worker", s.WorkerReady),
	}
	line := strings.Join(parts, metaStyle.Render("  ·  "))
	if s.UnreadCount > 0 {
		line += "  " + badgeStyle.Render(fmt.Sprintf("%d unread", s.UnreadCount))
	}
	return line
}

func (a App) inboxView() string {
	var b strings.Builder
	s := a.state

	if !s.Subscribed && len(s.Notifications) == 0 {
		b.WriteString("\n " + dimStyle.Render("push notifications are off, press p to turn them on") + "\n")
		return b.String()
	}
	if s.Loading && len(s.Notifications) == 0 {
		b.WriteString(" " + dimStyle.Render("loading...") + "\n")
		return b.String()
	}
	if len(s.Notifications) == 0 {
		b.WriteString("\n " + dimStyle.Render("no notifications yet, press t to send a test") + "\n")
		return b.String()
	}

	now := a.now()
	titleWidth := max(a.width-34, 16)
	for i, n := range s.Notifications {
		isActive := i == a.cursor

		cursor := " "
		if isActive {
			cursor = accentStyle.Render("▸")
		}
		dot := " "
		if !n.IsRead() {
			dot = unreadDotStyle.Render("●")
		}

		title := truncStr(cleanText(n.Title), titleWidth)
		var titleStyled string
		switch {
		case isActive:
			titleStyled = selectedStyle.Render(title)
		case n.IsRead():
			titleStyled = dimStyle.Render(title)
		default:
			titleStyled = normalStyle.Render(title)
		}

		row := fmt.Sprintf(" %s %s %s %s  %s", cursor, dot, TypeBadge(n.Type), titleStyled, metaStyle.Render(formatTime(n.CreatedAt, now)))
		if isActive {
			row = selectedRowBg.Render(row)
		}
		b.WriteString(row + "\n")

		if isActive && n.Message != "" {
			msg := truncStr(cleanText(n.Message), max(a.width-18, 20))
			b.WriteString("               " + messageStyle.Render(msg) + "\n")
		}
	}
	return b.String()
}

func (a App) helpKeys() string {
	push := "push on"
	if a.state.Subscribed {
		push = "push off"
	}
	return helpEntry("j/k", "nav") + "  " + helpEntry("enter", "read") + "  " + helpEntry("a", "read all") + "  " +
		helpEntry("p", push) + "  " + helpEntry("t", "test") + "  " + helpEntry("R", "reload") + "  " +
		helpEntry("c", "copy") + "  " + helpEntry("o", "dashboard") + "  " + helpEntry("h", "help") + "  " + helpEntry("q", "quit")
}
