package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/gymbell/gymbell/internal/config"
	"github.com/gymbell/gymbell/internal/host/local"
	"github.com/gymbell/gymbell/internal/host/natsbridge"
	"github.com/gymbell/gymbell/internal/logging"
	"github.com/gymbell/gymbell/internal/pushmgr"
	"github.com/gymbell/gymbell/pkg/client"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var errNotLoggedIn = errors.New("not logged in, run 'gymbell login' first")

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globals holds the root flags and what Before builds from them.
type globals struct {
	configPath string
	envFile    string
	token      string
	logLevel   string

	cfg       *config.Config
	logCloser func()
}

func newApp() *cli.Command {
	g := &globals{}

	app := &cli.Command{
		Name:      "gymbell",
		Usage:     "Push notifications for your gym membership",
		UsageText: "gymbell [global options] [command [command options]]",
		Description: `gymbell keeps this device subscribed to gym push notifications and shows
the notification inbox with its unread badge.

Run 'gymbell' with no arguments to open the interactive inbox.
Run 'gymbell enable' to turn push notifications on.`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("GYMBELL_CONFIG"),
				Value:       config.DefaultConfigPath(),
				Destination: &g.configPath,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file with GYMBELL_* overrides",
				Value:       ".env",
				Destination: &g.envFile,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "access token (overrides GYMBELL_TOKEN and the saved token)",
				Destination: &g.token,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Destination: &g.logLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(g.configPath, g.envFile)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if g.logLevel != "" {
				cfg.Log.Level = g.logLevel
			}

			// Always log to a file so logs never mix with command output
			// or the inbox screen.
			logger, closer, err := logging.New(cfg.Log.Level, cfg.LogFile(true))
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			g.cfg = cfg
			g.logCloser = closer
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if g.logCloser != nil {
				g.logCloser()
			}
			return nil
		},
		Action: g.runTUI,
	}

	app.Commands = append(app.Commands,
		g.statusCmd(),
		g.enableCmd(),
		g.disableCmd(),
		g.testCmd(),
		g.inboxCmd(),
		g.unreadCmd(),
		g.readCmd(),
		g.readAllCmd(),
		g.watchCmd(),
		g.loginCmd(),
		g.logoutCmd(),
		g.permissionCmd(),
		g.openCmd(),
	)
	return app
}

func (g *globals) newClient(token string) *client.Client {
	return client.New(g.cfg.APIURL, token, client.WithTimeout(g.cfg.HTTPTimeout))
}

func (g *globals) newRuntime(prompter local.Prompter) (*local.Runtime, error) {
	return local.New(g.cfg.DataDir, g.cfg.PushBaseURL,
		local.WithPrompter(prompter),
		local.WithLogger(logging.Component("runtime")),
	)
}

// session is one initialized manager with everything it was built from.
type session struct {
	cfg    *config.Config
	client *client.Client
	rt     *local.Runtime
	mgr    *pushmgr.Manager
	log    zerolog.Logger

	onChange  func(pushmgr.State)
	following atomic.Bool

	// bmu guards the bridge fields. The bridge listens on subject, and
	// subject is empty while nothing is running.
	bmu     sync.Mutex
	nc      *nats.Conn
	bridge  stopper
	subject string
	dial    func(subject string) (stopper, error)
}

// stopper is a running message bridge.
type stopper interface {
	Stop() error
}

// open builds and initializes a manager for the logged-in member. onChange,
// when set, sees every manager state change.
func (g *globals) open(ctx context.Context, prompter local.Prompter, onChange func(pushmgr.State)) (*session, error) {
	token := g.cfg.ResolveToken(g.token)
	if token == "" {
		return nil, errNotLoggedIn
	}

	rt, err := g.newRuntime(prompter)
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:      g.cfg,
		client:   g.newClient(token),
		rt:       rt,
		log:      logging.Component("session"),
		onChange: onChange,
	}
	s.dial = s.dialBridge

	device := pushmgr.DefaultDeviceInfo()
	device.UserAgent = "gymbell/" + version

	s.mgr = pushmgr.New(rt, s.client,
		pushmgr.WithRetry(g.cfg.RetryPolicy()),
		pushmgr.WithActivationTimeout(g.cfg.Worker.ActivationTimeout),
		pushmgr.WithPageSize(g.cfg.Notifications.PageSize),
		pushmgr.WithDeviceInfo(device),
		pushmgr.WithOnChange(s.changed),
	)
	if err := s.mgr.Init(ctx); err != nil {
		s.mgr.Dispose()
		return nil, err
	}
	return s, nil
}

func (s *session) changed(state pushmgr.State) {
	if s.following.Load() {
		if err := s.follow(s.mgr.Snapshot); err != nil {
			s.log.Warn().Err(err).Msg("message bridge unavailable")
		}
	}
	if s.onChange != nil {
		s.onChange(state)
	}
}

// startBridge runs the NATS bridge when one is configured and keeps it on
// the current subscription: started on subscribe, moved when the endpoint
// changes and stopped on unsubscribe. Without an explicit subject the
// subscription's endpoint id picks the member subject.
func (s *session) startBridge() error {
	if s.cfg.NATS.URL == "" {
		return nil
	}
	s.following.Store(true)
	if err := s.follow(s.mgr.Snapshot); err != nil {
		return err
	}
	if !s.mgr.Snapshot().Subscribed {
		s.log.Info().Msg("no subscription yet, message bridge waits for one")
	}
	return nil
}

// follow moves the bridge to the subject the latest state calls for.
// snapshot is read under bmu so concurrent callers settle on the newest
// state.
func (s *session) follow(snapshot func() pushmgr.State) error {
	s.bmu.Lock()
	defer s.bmu.Unlock()

	state := snapshot()
	subject := ""
	if state.Subscribed {
		subject = bridgeSubject(s.cfg.NATS.Subject, state.Endpoint)
	}
	if subject == s.subject {
		return nil
	}
	s.stopBridge()
	if subject == "" {
		return nil
	}
	b, err := s.dial(subject)
	if err != nil {
		return err
	}
	s.bridge, s.subject = b, subject
	s.log.Info().Str("subject", subject).Msg("message bridge started")
	return nil
}

// stopBridge stops the running bridge. Callers hold bmu.
func (s *session) stopBridge() {
	if s.bridge == nil {
		return
	}
	if err := s.bridge.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("stop message bridge")
	}
	s.log.Info().Str("subject", s.subject).Msg("message bridge stopped")
	s.bridge, s.subject = nil, ""
}

// dialBridge subscribes a bridge to subject over the shared connection,
// connecting on first use. Callers hold bmu.
func (s *session) dialBridge(subject string) (stopper, error) {
	if s.nc == nil {
		nc, err := natsbridge.Connect(s.cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		s.nc = nc
	}
	b := natsbridge.New(s.nc, subject, s.rt)
	if err := b.Start(); err != nil {
		return nil, err
	}
	return b, nil
}

func bridgeSubject(configured, endpoint string) string {
	if configured != "" {
		return configured
	}
	if endpoint == "" {
		return ""
	}
	return natsbridge.Subject(path.Base(endpoint))
}

func (s *session) Close() {
	s.following.Store(false)
	s.bmu.Lock()
	s.stopBridge()
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	s.bmu.Unlock()
	s.mgr.Dispose()
}
