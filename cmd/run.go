package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/periljames/amo-portal-sub004/pkg/api"
	"github.com/periljames/amo-portal-sub004/pkg/config"
	"github.com/periljames/amo-portal-sub004/pkg/log"
	"github.com/periljames/amo-portal-sub004/pkg/session"
	"github.com/periljames/amo-portal-sub004/pkg/store"
	"github.com/urfave/cli/v3"
)

var runLogger = log.ForComponent("run")

// RunCommand creates the run command: the long-lived sync session.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the realtime sync session daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Status listener address (overrides config listen_addr)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c.String("config"), c.String("listen"))
		},
	}
}

// activeSession bundles the pieces torn down together on reload or
// shutdown.
type activeSession struct {
	controller *session.Controller
	store      *store.Store
	httpServer *http.Server
}

func startSession(ctx context.Context, cfg *config.Config, listenAddr string) (*activeSession, error) {
	st, err := store.Open(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	controller := session.New(cfg, st, session.Options{})
	controller.Start(ctx)

	s := &activeSession{controller: controller, store: st}

	if listenAddr == "" {
		listenAddr = cfg.ListenAddr
	}
	if listenAddr != "" {
		mux := http.NewServeMux()
		server := api.NewServer(controller, st)
		server.RegisterRoutes(mux)

		s.httpServer = &http.Server{
			Addr:    listenAddr,
			Handler: api.CorsMiddleware(mux),
		}
		go func() {
			runLogger.Infof("status listener on http://%s", listenAddr)
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				runLogger.Errorf("status listener failed: %v", err)
			}
		}()
	}

	return s, nil
}

func (s *activeSession) stop() {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			runLogger.Warnf("status listener shutdown: %v", err)
		}
		cancel()
	}
	s.controller.Stop()
	if err := s.store.Close(); err != nil {
		runLogger.Warnf("closing store: %v", err)
	}
}

func run(ctx context.Context, configPath, listenAddr string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sessionCtx, sessionCancel := context.WithCancel(ctx)
	defer func() { sessionCancel() }()

	current, err := startSession(sessionCtx, cfg, listenAddr)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	fmt.Println("Sync session started. Press Ctrl+C to stop, send SIGHUP to reload, or modify the config file for automatic reload.")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		runLogger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				runLogger.Warnf("failed to close config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			runLogger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			runLogger.Infof("watching config file for changes: %s", configPath)
		}
	}

	reload := func() {
		newCfg, err := config.LoadConfig(configPath)
		if err != nil {
			runLogger.Errorf("reload: loading config: %v", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			runLogger.Errorf("reload: invalid config: %v", err)
			return
		}

		runLogger.Infof("restarting session with new configuration")
		current.stop()
		sessionCancel()
		sessionCtx, sessionCancel = context.WithCancel(ctx)

		next, err := startSession(sessionCtx, newCfg, listenAddr)
		if err != nil {
			runLogger.Errorf("reload: restarting session: %v", err)
			return
		}
		current = next
		runLogger.Infof("configuration reloaded successfully")
	}

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if watcher != nil {
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			current.stop()
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				runLogger.Infof("received SIGHUP, reloading configuration")
				reload()
			case syscall.SIGINT, syscall.SIGTERM:
				fmt.Println("\nShutting down...")
				current.stop()
				return nil
			}
		case event, ok := <-watchEvents:
			if !ok {
				continue
			}
			// Editors often replace the file atomically, so rename and
			// remove count as changes too.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				runLogger.Infof("config file changed: %s (%s)", event.Name, event.Op.String())

				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					time.Sleep(200 * time.Millisecond)
					if _, err := os.Stat(configPath); os.IsNotExist(err) {
						runLogger.Warnf("config file was removed and not replaced, skipping reload")
						continue
					}
					if err := watcher.Add(configPath); err != nil {
						runLogger.Warnf("failed to re-add config file to watcher: %v", err)
					}
				} else {
					time.Sleep(100 * time.Millisecond)
				}

				reload()
			}
		case err, ok := <-watchErrors:
			if !ok {
				continue
			}
			runLogger.Warnf("config file watcher error: %v", err)
		}
	}
}
