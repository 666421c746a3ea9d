package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/benaskins/lectern/internal/api"
	"github.com/benaskins/lectern/internal/articles"
	"github.com/benaskins/lectern/internal/keychain"
	"github.com/benaskins/lectern/internal/logbuf"
	"github.com/benaskins/lectern/internal/metrics"
	"github.com/benaskins/lectern/internal/poller"
	"github.com/benaskins/lectern/internal/supervisor"
	"github.com/benaskins/lectern/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the client and supervise the backend",
	Long: "Start the backend server, keep checking its health, and serve the local control API. " +
		"The backend is stopped when the client exits.",
	RunE: runClient,
}

var (
	runNoStart bool
	runTUI     bool
)

func init() {
	runCmd.Flags().BoolVar(&runNoStart, "no-start", false, "serve the control API without starting the backend")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show the live dashboard (requires a terminal)")
	rootCmd.AddCommand(runCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("metrics registration failed", "error", err)
	}

	home := lecternHome()
	secrets := keychain.NewSystemStore(home)

	useTUI := runTUI && isTerminal(os.Stdout)
	if useTUI {
		// keep log lines off the dashboard
		logFile := logbuf.RotatingFile(filepath.Join(home, "lectern.log"))
		defer logFile.Close()
		if err := setupLogging(logLevel, logFile); err != nil {
			return err
		}
	}

	sup := supervisor.New(supervisor.Options{
		Config:   cfg,
		StateDir: home,
		Secrets:  secrets,
	})
	// Runs on every exit path, including a failed start.
	defer func() {
		if err := sup.Stop(); err != nil {
			slog.Warn("error stopping backend", "error", err)
		}
	}()

	gw := newPortGateway(sup.Port, clientOptions(cfg, secrets)...)
	jobs := articles.New(gw, sup.Status(), slog.Default(),
		articles.WithPollSettings(func() poller.Options { return pollOptions(sup.Config()) }),
	)

	addr := clientAddr
	if addr == "" {
		addr = cfg.API.Addr
	}
	ctl := listenControl(api.NewServer(sup, jobs), cfg.API.Socket, addr)
	defer ctl.close()

	go func() {
		if err := sup.WatchConfig(ctx, resolvedConfigPath()); err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		}
	}()

	if useTUI {
		// the dashboard shows startup progress and a failed start can be retried there
		if !runNoStart {
			go sup.Start(ctx)
		}
		return tui.RunDashboard(ctx, sup, sup.Status())
	}
	return serveHeadless(ctx, sup, ctl, !runNoStart)
}

// controlAPI is the control server bound to its listeners.
type controlAPI struct {
	srv    *api.Server
	socket string
	errc   chan error
}

func listenControl(srv *api.Server, socket, addr string) *controlAPI {
	c := &controlAPI{srv: srv, socket: socket, errc: make(chan error, 2)}
	go func() { c.errc <- srv.ListenUnix(socket) }()
	if addr != "" {
		go func() { c.errc <- srv.ListenTCP(addr) }()
	}
	return c
}

func (c *controlAPI) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.srv.Shutdown(ctx)
	os.Remove(c.socket)
}

// serveHeadless starts the backend when asked and serves the control API
// until ctx ends or a listener fails. A failed start is logged and left in
// the snapshot; the API stays up so `lectern start` can retry.
func serveHeadless(ctx context.Context, sup *supervisor.Supervisor, ctl *controlAPI, start bool) error {
	if start {
		if err := sup.Start(ctx); err != nil {
			slog.Error("backend failed to start; fix the cause and run `lectern start`", "error", err)
		}
	}
	slog.Info("lectern ready", "socket", ctl.socket, "status", sup.Status().Get().String())

	select {
	case <-ctx.Done():
		slog.Info("received signal, shutting down")
	case err := <-ctl.errc:
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
	}
	return nil
}
