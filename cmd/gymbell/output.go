package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/gymbell/gymbell/internal/pushmgr"
	"github.com/gymbell/gymbell/internal/tui"
	"github.com/gymbell/gymbell/pkg/domain"
)

var greetings = [...]string{
	"The squat rack misses you. It told us.",
	"Your locker has been very quiet lately.",
	"Spin class starts without you every single time. Rude, really.",
	"Rest days count. Seven in a row is a vacation.",
	"The kettlebells are exactly where you left them.",
	"Someone took your favourite bench. Come reclaim it.",
	"Your streak is waiting. So is the foam roller.",
	"Class reminders are more useful when you can see them.",
	"Leg day will not skip itself.",
	"The front desk asked about you. We said you were warming up.",
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#fb923c")).Bold(true)
	quoteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#34d474")).Bold(true)
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#606878"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e06060"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8890a0"))
	unreadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fb923c"))
)

// printGreeting is shown instead of the inbox when nobody is logged in.
func printGreeting(w io.Writer) {
	msg := greetings[rand.IntN(len(greetings))]
	fmt.Fprintf(w, "\n%s\n\n%s\n\n%s\n\n", //nolint:errcheck
		titleStyle.Render("GYMBELL"),
		quoteStyle.Render(msg),
		hintStyle.Render("To get started: gymbell login"),
	)
}

func printOK(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", okStyle.Render("✓"), msg) //nolint:errcheck
}

func printDetail(w io.Writer, msg string) {
	if msg == "" {
		return
	}
	fmt.Fprintf(w, "  %s\n", hintStyle.Render(msg)) //nolint:errcheck
}

func yesNo(on bool) string {
	if on {
		return okStyle.Render("on")
	}
	return offStyle.Render("off")
}

// printStatus prints one line per state flag.
func printStatus(w io.Writer, s pushmgr.State) {
	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label)), value) //nolint:errcheck
	}
	if !s.Supported {
		row("push", offStyle.Render("not available on this device"))
		return
	}
	row("push", yesNo(s.Subscribed))
	row("permission", yesNo(s.PermissionGranted))
	row("worker", yesNo(s.WorkerReady))
	if s.Endpoint != "" {
		row("endpoint", s.Endpoint)
	}
	if s.Subscribed {
		row("unread", unreadStyle.Render(fmt.Sprint(s.UnreadCount)))
	}
	if s.LastError != nil {
		row("last error", errStyle.Render(s.LastError.Message))
	}
}

// printInbox prints the notification list, newest first as the backend
// returned it.
func printInbox(w io.Writer, list []domain.Notification, unread int) {
	if len(list) == 0 {
		printDetail(w, "No notifications yet. Run 'gymbell test' to send one.")
		return
	}
	now := time.Now()
	for _, n := range list {
		dot := " "
		if !n.IsRead() {
			dot = unreadStyle.Render("●")
		}
		fmt.Fprintf(w, "%s %s %s  %s  %s\n", dot, //nolint:errcheck
			tui.TypeBadge(n.Type),
			n.Title,
			labelStyle.Render(relativeTime(n.CreatedAt, now)),
			offStyle.Render(n.ID),
		)
	}
	fmt.Fprintf(w, "\n  %s\n", unreadStyle.Render(fmt.Sprintf("%d unread", unread))) //nolint:errcheck
}

// printArrival prints a notification picked up by watch.
func printArrival(w io.Writer, n domain.Notification) {
	fmt.Fprintf(w, "%s %s %s\n", tui.TypeBadge(n.Type), n.Title, labelStyle.Render(n.CreatedAt.Local().Format("15:04"))) //nolint:errcheck
	if n.Message != "" {
		fmt.Fprintf(w, "  %s\n", hintStyle.Render(n.Message)) //nolint:errcheck
	}
}

func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
