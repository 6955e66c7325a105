package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gymbell/gymbell/pkg/domain"
)

// Shimmer animation for the GYMBELL logo.
type shimmerTickMsg time.Time

func shimmerTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return shimmerTickMsg(t)
	})
}

// renderShimmerLogo renders "GYMBELL" as a flowing wave of orange light.
// Deep ember (#4a1d08) -> bright amber (#fb923c).
func renderShimmerLogo(frame int) string {
	const text = "GYMBELL"
	n := len(text)

	var out string

	t := float64(frame)

	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)

		phase := t*0.1 - x*3.0
		phase += math.Sin(t*0.023) * 2.0

		b := math.Sin(phase)*0.5 + 0.5
		b = math.Pow(b, 1.3)

		// Slow breathing tide
		tide := math.Sin(t*0.035) * 0.12
		b = b*0.75 + tide + 0.18

		if b > 1.0 {
			b = 1.0
		} else if b < 0.05 {
			b = 0.05
		}

		r := clampByte(74 + b*(251-74))
		g := clampByte(29 + b*(146-29))
		bl := clampByte(8 + b*(60-8))

		color := fmt.Sprintf("#%02X%02X%02X", r, g, bl)

		s := lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(color))
		out += s.Render(string(text[i]))

		if i < n-1 {
			out += "  "
		}
	}

	return out
}

func clampByte(v float64) int {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return int(v)
}

var (
	// Base styles, neutral palette
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e4e4ec")).
			Bold(true)

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c0c4d0"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868"))

	// Help bar
	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	helpLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868"))

	accentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fb923c"))

	onStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#34d474")).
		Bold(true)

	offStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#606878"))

	rejectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e06060"))

	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#111118")).
			Background(lipgloss.Color("#fb923c")).
			Bold(true).
			Padding(0, 1)

	unreadDotStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fb923c"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a0a4b0"))

	// Selected row background
	selectedRowBg = lipgloss.NewStyle().Background(lipgloss.Color("#1e1e2a"))

	typeColors = map[domain.NotificationType]lipgloss.Color{
		domain.TypeWorkout:     lipgloss.Color("#4ade80"),
		domain.TypeAchievement: lipgloss.Color("#d4a844"),
		domain.TypeReminder:    lipgloss.Color("#60a0e0"),
		domain.TypePromotion:   lipgloss.Color("#c084e0"),
		domain.TypeAppointment: lipgloss.Color("#3ecce4"),
		domain.TypeMembership:  lipgloss.Color("#f0944a"),
		domain.TypePayment:     lipgloss.Color("#e06060"),
		domain.TypeSystem:      lipgloss.Color("#8890a0"),
	}
)

// TypeStyle returns a bold style colored for the notification type.
func TypeStyle(t domain.NotificationType) lipgloss.Style {
	if c, ok := typeColors[t]; ok {
		return lipgloss.NewStyle().Foreground(c).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#606878")).Bold(true)
}

// TypeBadge returns a fixed-width colored label, e.g. "workout    ".
func TypeBadge(t domain.NotificationType) string {
	if t == "" {
		t = domain.TypeOther
	}
	return TypeStyle(t).Render(fmt.Sprintf("%-11s", string(t)))
}

// onOff renders a labelled on/off indicator.
func onOff(label string, on bool) string {
	if on {
		return onStyle.Render("●") + " " + normalStyle.Render(label)
	}
	return offStyle.Render("○") + " " + dimStyle.Render(label)
}

// helpEntry renders a single "key label" pair for help bars.
func helpEntry(key, label string) string {
	return helpKeyStyle.Render(key) + " " + helpLabelStyle.Render(label)
}

// helpItem is a selectable link in the help overlay.
type helpItem struct {
	label string
	desc  string
	path  string
}

var helpItems = []helpItem{
	{"Dashboard", "your member dashboard", ""},
	{"Notification settings", "choose what gets pushed", "/settings/notifications"},
	{"Class schedule", "book and cancel classes", "/schedule"},
}

// helpView renders the interactive help overlay with a cursor.
func helpView(cursor int, dashboardURL string) string {
	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#fb923c")).
		Bold(true).
		Render("G Y M B E L L")

	cmdStyle := lipgloss.NewStyle().Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	sectionStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	selectedStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#fb923c"))
	linkDescStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)

	commands := []struct{ cmd, desc string }{
		{"gymbell", "Open the inbox (this screen)"},
		{"gymbell enable", "Turn on push notifications"},
		{"gymbell disable", "Turn off push notifications"},
		{"gymbell inbox", "Print the inbox"},
		{"gymbell watch", "Print notifications as they arrive"},
		{"gymbell login", "Save your access token"},
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n  %s\n\n", title)

	fmt.Fprintf(&b, "  %s\n", sectionStyle.Render("Commands"))
	for _, c := range commands {
		fmt.Fprintf(&b, "    %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-20s", c.cmd)), descStyle.Render(c.desc))
	}

	if dashboardURL == "" {
		return b.String()
	}
	fmt.Fprintf(&b, "\n  %s\n", sectionStyle.Render("Links (enter to open)"))
	for i, item := range helpItems {
		label := cmdStyle.Render(fmt.Sprintf("%-24s", item.label))
		prefix := "    "
		if i == cursor {
			label = selectedStyle.Render(fmt.Sprintf("%-24s", item.label))
			prefix = "  > "
		}
		fmt.Fprintf(&b, "%s%s  %s\n", prefix, label, linkDescStyle.Render(item.desc))
	}
	return b.String()
}
