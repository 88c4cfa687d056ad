package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/bridge"
	"github.com/ppiankov/invigil/internal/config"
	"github.com/ppiankov/invigil/internal/filegate"
	"github.com/ppiankov/invigil/internal/handlegate"
	"github.com/ppiankov/invigil/internal/hooks"
	"github.com/ppiankov/invigil/internal/journal"
	"github.com/ppiankov/invigil/internal/launchgate"
	"github.com/ppiankov/invigil/internal/psmon"
	"github.com/ppiankov/invigil/internal/state"
	"github.com/ppiankov/invigil/internal/systemd"
	"github.com/ppiankov/invigil/internal/tamperwatch"
	"github.com/ppiankov/invigil/internal/unlock"
	"github.com/ppiankov/invigil/internal/watchdog"
)

var serveConfig string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Config file path (default "+config.DefaultPath+")")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enforcement daemon",
	Long: "Binds the root-only control socket, starts the heartbeat watchdog,\n" +
		"the launch monitor and the install-dir tamper watcher, and serves\n" +
		"control requests until SIGTERM.\n\n" +
		"Gate adapters the host cannot provide start degraded with a warning;\n" +
		"a socket bind failure is fatal.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgHash, err := config.LoadWithHash(serveConfig)
	if err != nil {
		return err
	}

	// A broken journal degrades to stderr-only operation rather than
	// refusing to enforce.
	var jnl *journal.Journal
	if j, err := journal.Open(cfg.Journal); err != nil {
		fmt.Fprintf(os.Stderr, "serve: WARNING journal disabled: %v\n", err)
	} else {
		jnl = j
		defer jnl.Close()
	}
	record := func(e journal.Entry) {
		if jnl == nil {
			return
		}
		if err := jnl.Record(e); err != nil {
			fmt.Fprintf(os.Stderr, "serve: journal: %v\n", err)
		}
	}
	record(journal.Lifecycle(fmt.Sprintf("daemon start, version %s, config sha256 %s", version, cfgHash)))

	for _, warning := range systemd.CheckUnitFiles() {
		fmt.Fprintf(os.Stderr, "serve: WARNING %s\n", warning)
	}

	st := state.New()

	// Webhook destinations swap atomically on config hot-reload.
	var webhooks atomic.Pointer[alerts.Dispatcher]
	webhooks.Store(alerts.NewDispatcher(cfg.Webhooks))

	center := alerts.NewCenter(
		func(a alerts.Alert) { record(journal.AlertRaised(a.Type.String(), a.SourcePid, a.Detail)) },
		func(a alerts.Alert) { webhooks.Load().Deliver(a) },
	)

	auth, err := unlock.New(st, center)
	if err != nil {
		return fmt.Errorf("unlock key: %w", err)
	}
	defer auth.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go center.Run(ctx)

	lg := launchgate.New(st, center)
	fg := filegate.New(center)
	hg := handlegate.New(st)

	// No user-space facility can intercept handle requests or veto
	// set-information operations; both gates start degraded and stay
	// evaluable for the simulator and future adapters.
	if err := hg.Attach(ctx, nil); err != nil {
		fmt.Fprintf(os.Stderr, "serve: WARNING handle interception degraded: %v\n", err)
	}
	if err := fg.Attach(ctx, nil, st); err != nil {
		fmt.Fprintf(os.Stderr, "serve: WARNING filesystem veto degraded: %v (tamper watcher detects instead)\n", err)
	}

	tw := tamperwatch.New(tamperwatch.Config{Dirs: cfg.Tamper.WatchDirs}, st, center)
	go func() {
		if err := tw.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "serve: WARNING tamper watcher stopped: %v\n", err)
		}
	}()

	mon := psmon.New(psmon.Config{PollInterval: cfg.Monitor.Interval()}, st, lg, psmon.GopsutilEnumerator{}, center)
	go func() {
		if err := mon.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "serve: WARNING launch monitor stopped: %v\n", err)
		}
	}()

	wd := watchdog.New(watchdog.Config{}, st, center, hooks.NoopKillswitch{})
	go func() { _ = wd.Run(ctx) }()

	reloader, err := config.NewReloader(serveConfig, func(c *config.Config) {
		webhooks.Store(alerts.NewDispatcher(c.Webhooks))
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "serve: WARNING hot-reload disabled: %v\n", err)
	} else {
		go func() { _ = reloader.Run(ctx) }()
	}

	b := bridge.New(bridge.Config{
		State: st,
		Auth:  auth,
		Queue: center.Queue(),
		Jnl:   jnl,
	})
	srv := bridge.NewServer(cfg.Socket, b)

	fmt.Fprintf(os.Stderr, "serve: enforcement daemon %s, control socket %s\n", version, srv.Path())

	err = srv.Serve(ctx)
	record(journal.Lifecycle("daemon stop"))
	return err
}
