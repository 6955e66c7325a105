package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"

	"github.com/gymbell/gymbell/internal/browser"
	"github.com/gymbell/gymbell/internal/host/local"
	"github.com/gymbell/gymbell/internal/pushmgr"
	"github.com/gymbell/gymbell/internal/tui"
	"github.com/gymbell/gymbell/pkg/client"
	"github.com/gymbell/gymbell/pkg/domain"
)

// runTUI is the root action: the interactive inbox.
func (g *globals) runTUI(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() > 0 {
		return fmt.Errorf("unknown command %q. Run 'gymbell --help' for usage", c.Args().First())
	}

	token := g.cfg.ResolveToken(g.token)
	if token == "" {
		printGreeting(c.Root().Writer)
		return nil
	}
	// Only send the member back to login on an actual auth failure, not
	// on transient errors.
	if _, err := g.newClient(token).UnreadCount(ctx); client.IsStatus(err, 401) {
		printGreeting(c.Root().Writer)
		return nil
	}

	// The inbox asks for permission itself before enabling push.
	var notifier tui.Notifier
	s, err := g.open(ctx, &local.StaticPrompter{Answer: true}, notifier.OnChange)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.startBridge(); err != nil {
		s.log.Warn().Err(err).Msg("message bridge unavailable")
	}

	app := tui.NewApp(s.mgr, g.cfg.DashboardURL, version).WithHostRefresh(s.rt.Reload)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	notifier.Attach(p)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui error: %w", err)
	}
	return nil
}

func (g *globals) statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show push and inbox status",
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := g.open(ctx, local.HuhPrompter{}, nil)
			if err != nil {
				return err
			}
			defer s.Close()
			printStatus(c.Root().Writer, s.mgr.Snapshot())
			return nil
		},
	}
}

func (g *globals) enableCmd() *cli.Command {
	var yes bool
	return &cli.Command{
		Name:  "enable",
		Usage: "Turn on push notifications",
		Description: `Asks for notification permission if it has not been decided yet, then
subscribes this device and registers it with the gym.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "yes",
				Aliases:     []string{"y"},
				Usage:       "grant permission without asking",
				Destination: &yes,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var prompter local.Prompter = local.HuhPrompter{}
			if yes {
				prompter = &local.StaticPrompter{Answer: true}
			}
			s, err := g.open(ctx, prompter, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.mgr.Snapshot().PermissionGranted {
				if _, err := s.mgr.RequestPermission(ctx); err != nil {
					return err
				}
			}
			if err := s.mgr.Subscribe(ctx); err != nil {
				return err
			}
			printOK(c.Root().Writer, "Push notifications on")
			printDetail(c.Root().Writer, s.mgr.Snapshot().Endpoint)
			return nil
		},
	}
}

func (g *globals) disableCmd() *cli.Command {
	return &cli.Command{
		Name:  "disable",
		Usage: "Turn off push notifications",
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := g.open(ctx, local.HuhPrompter{}, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			changed, err := s.mgr.Unsubscribe(ctx)
			if err != nil {
				return err
			}
			if !changed {
				printDetail(c.Root().Writer, "Push notifications were already off.")
				return nil
			}
			printOK(c.Root().Writer, "Push notifications off")
			return nil
		},
	}
}

func (g *globals) testCmd() *cli.Command {
	return &cli.Command{
		Name:  "test",
		Usage: "Ask the gym to send a test notification",
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := g.open(ctx, local.HuhPrompter{}, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.mgr.SendTestNotification(ctx); err != nil {
				return err
			}
			printOK(c.Root().Writer, "Test notification sent")
			return nil
		},
	}
}

func (g *globals) inboxCmd() *cli.Command {
	var jsonOutput bool
	return &cli.Command{
		Name:      "inbox",
		Usage:     "List notifications",
		UsageText: "gymbell inbox [--json]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON lines",
				Destination: &jsonOutput,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := g.open(ctx, local.HuhPrompter{}, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.mgr.LoadNotifications(ctx); err != nil {
				return err
			}
			state := s.mgr.Snapshot()
			if !state.Subscribed {
				printDetail(c.Root().Writer, "Push notifications are off. Run 'gymbell enable' first.")
				return nil
			}
			if jsonOutput {
				return writeJSONLines(c.Root().Writer, state.Notifications)
			}
			printInbox(c.Root().Writer, state.Notifications, state.UnreadCount)
			return nil
		},
	}
}

func (g *globals) unreadCmd() *cli.Command {
	return &cli.Command{
		Name:  "unread",
		Usage: "Print the unread count",
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := g.open(ctx, local.HuhPrompter{}, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.mgr.RefreshUnreadCount(ctx); err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.Root().Writer, s.mgr.Snapshot().UnreadCount)
			return err
		},
	}
}

func (g *globals) readCmd() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Mark notifications as read",
		UsageText: "gymbell read <id> [<id>...]",
		Action: func(ctx context.Context, c *cli.Command) error {
			ids := c.Args().Slice()
			if len(ids) == 0 {
				return errors.New("read needs at least one notification id")
			}
			s, err := g.open(ctx, local.HuhPrompter{}, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.mgr.MarkAsRead(ctx, ids...); err != nil {
				return err
			}
			printOK(c.Root().Writer, fmt.Sprintf("Marked %d read, %d unread left", len(ids), s.mgr.Snapshot().UnreadCount))
			return nil
		},
	}
}

func (g *globals) readAllCmd() *cli.Command {
	return &cli.Command{
		Name:  "read-all",
		Usage: "Mark every notification as read",
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := g.open(ctx, local.HuhPrompter{}, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.mgr.LoadNotifications(ctx); err != nil {
				return err
			}
			if err := s.mgr.MarkAllAsRead(ctx); err != nil {
				return err
			}
			printOK(c.Root().Writer, "All caught up")
			return nil
		},
	}
}

func (g *globals) watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print notifications as they arrive",
		Description: `Stays subscribed to the message bridge (nats.url) and prints every new
notification until interrupted.`,
		Action: func(ctx context.Context, c *cli.Command) error {
			if g.cfg.NATS.URL == "" {
				return errors.New("watch needs a message bridge, set nats.url or GYMBELL_NATS_URL")
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &watcher{}
			out := c.Root().Writer
			var mu sync.Mutex
			onChange := func(state pushmgr.State) {
				fresh := w.Observe(state)
				mu.Lock()
				defer mu.Unlock()
				for _, n := range fresh {
					printArrival(out, n)
				}
			}

			s, err := g.open(ctx, local.HuhPrompter{}, onChange)
			if err != nil {
				return err
			}
			defer s.Close()
			if !s.mgr.Snapshot().Subscribed {
				return pushmgr.ErrNotSubscribed
			}
			if err := s.mgr.LoadNotifications(ctx); err != nil {
				return err
			}
			// Only what arrives from here on is printed.
			w.Observe(s.mgr.Snapshot())
			w.Arm()

			if err := s.startBridge(); err != nil {
				return err
			}
			printDetail(out, "Watching for notifications, ctrl+c to stop.")
			<-ctx.Done()
			return nil
		},
	}
}

func (g *globals) loginCmd() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Save your access token",
		UsageText: "gymbell login [token]",
		Action: func(ctx context.Context, c *cli.Command) error {
			tok := strings.TrimSpace(c.Args().First())
			if tok == "" {
				err := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().
							Title("Access token").
							Description("Copy it from Settings → Devices in the gym dashboard.").
							EchoMode(huh.EchoModePassword).
							Value(&tok),
					),
				).RunWithContext(ctx)
				if err != nil {
					return err
				}
				tok = strings.TrimSpace(tok)
			}
			if tok == "" {
				return errors.New("no token given")
			}

			if err := g.cfg.SaveToken(tok); err != nil {
				return err
			}

			out := c.Root().Writer
			// Verify with a cheap authenticated call.
			unread, err := g.newClient(tok).UnreadCount(ctx)
			if err != nil {
				printDetail(out, fmt.Sprintf("Token saved but verification failed: %v", err))
				return nil
			}
			printOK(out, fmt.Sprintf("Logged in, %d unread", unread))
			return nil
		},
	}
}

func (g *globals) logoutCmd() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Remove the saved access token",
		Action: func(ctx context.Context, c *cli.Command) error {
			out := c.Root().Writer
			if _, err := os.Stat(g.cfg.TokenFile()); os.IsNotExist(err) {
				printDetail(out, "Already logged out.")
				return nil
			}
			if err := g.cfg.DeleteToken(); err != nil {
				return err
			}
			printOK(out, "Logged out")
			return nil
		},
	}
}

func (g *globals) permissionCmd() *cli.Command {
	return &cli.Command{
		Name:  "permission",
		Usage: "Manage the notification permission",
		Commands: []*cli.Command{
			{
				Name:  "reset",
				Usage: "Forget the permission decision so the next enable asks again",
				Description: `A denied permission is never asked again on its own. Resetting it also
drops this device's push subscription, like revoking it in a browser.`,
				Action: func(ctx context.Context, c *cli.Command) error {
					rt, err := g.newRuntime(local.HuhPrompter{})
					if err != nil {
						return err
					}
					if err := rt.ResetPermission(); err != nil {
						return err
					}
					printOK(c.Root().Writer, "Permission reset")
					return nil
				},
			},
		},
	}
}

func (g *globals) openCmd() *cli.Command {
	return &cli.Command{
		Name:  "open",
		Usage: "Open the member dashboard in a browser",
		Action: func(ctx context.Context, c *cli.Command) error {
			url := g.cfg.DashboardURL
			if err := browser.Open(url); err != nil {
				_, err = fmt.Fprintln(c.Root().Writer, url)
				return err
			}
			return nil
		},
	}
}

// watcher remembers which notifications were seen and reports new ones
// once armed.
type watcher struct {
	mu    sync.Mutex
	seen  map[string]bool
	armed bool
}

// Observe records the notifications in s and returns those not seen
// before. It returns nothing until Arm is called.
func (w *watcher) Observe(s pushmgr.State) []domain.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen == nil {
		w.seen = make(map[string]bool)
	}
	var fresh []domain.Notification
	for _, n := range s.Notifications {
		if w.seen[n.ID] {
			continue
		}
		w.seen[n.ID] = true
		if w.armed {
			fresh = append(fresh, n)
		}
	}
	return fresh
}

// Arm starts reporting new notifications.
func (w *watcher) Arm() {
	w.mu.Lock()
	w.armed = true
	w.mu.Unlock()
}

func writeJSONLines[T any](out io.Writer, items []T) error {
	enc := json.NewEncoder(out)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	return nil
}
