package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/threadbridge/internal/agent"
	"github.com/opencode-ai/threadbridge/internal/breaker"
	"github.com/opencode-ai/threadbridge/internal/config"
	"github.com/opencode-ai/threadbridge/internal/event"
	"github.com/opencode-ai/threadbridge/internal/formatter"
	"github.com/opencode-ai/threadbridge/internal/logging"
	"github.com/opencode-ai/threadbridge/internal/platform/memory"
	"github.com/opencode-ai/threadbridge/internal/server"
	"github.com/opencode-ai/threadbridge/internal/session"
	"github.com/opencode-ai/threadbridge/internal/storage"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	serveNoWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge and its HTTP API",
	Long: `Start threadbridge with the in-process chat platform and the HTTP API.

Threads are created and driven over HTTP (/thread, /post); sessions are
inspected and controlled under /session and streamed from /event.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 4590)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config, 127.0.0.1)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Agent working directory")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch session worktrees for branch changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	settings, err := config.Resolve(appConfig)
	if err != nil {
		return err
	}
	if logLevel == "" && settings.LogLevel != "" {
		logging.SetLevel(logging.ParseLevel(settings.LogLevel))
	}
	if servePort != 0 {
		settings.Port = servePort
	}
	if serveHostname != "" {
		settings.Hostname = serveHostname
	}

	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("workDir", workDir).Msg("starting threadbridge")
	if file := logging.GetLogFilePath(); file != "" {
		fmt.Fprintf(os.Stderr, "Logging to %s\n", file)
	}
	defer logging.Close()

	if settings.AgentCommand == "" {
		return errors.New("no agent command configured: set agent.command or THREADBRIDGE_AGENT_COMMAND")
	}

	bus := event.NewBus()
	defer bus.Close()

	unsub := bus.Subscribe(event.SessionError, func(e event.Event) {
		if data, ok := e.Data.(event.SessionErrorData); ok {
			log.Warn().Str("session", data.SessionID).Str("error", data.Error).Msg("session error")
		}
	})
	defer unsub()

	mgr := session.NewManager(session.Config{
		MaxSessions:      settings.MaxSessions,
		SessionTimeout:   settings.SessionTimeout,
		WarningBefore:    settings.WarningBefore,
		ReclaimInterval:  settings.ReclaimInterval,
		SubagentInterval: settings.SubagentPollInterval,
		Thresholds: breaker.Thresholds{
			SoftLimit: settings.SoftLimit,
			HardLimit: settings.HardLimit,
			MaxLines:  settings.MaxLines,
		},
		AllowedUsers:   settings.AllowedUsers,
		WorkDir:        workDir,
		WorktreeRoot:   settings.WorktreeRoot,
		WorktreeMaxAge: settings.WorktreeMaxAge,
		WatchBranches:  !serveNoWatch,
		Spawner: &agent.CommandSpawner{
			Command: settings.AgentCommand,
			Args:    settings.AgentArgs,
			Env:     settings.AgentEnv,
		},
		Snapshots:  storage.NewSnapshots(storage.New(paths.StoragePath())),
		Bus:        bus,
		Formatters: formatter.NewRegistry(),
	})

	chat := memory.New("memory")
	mgr.AddPlatform(chat)
	chat.SetHandler(mgr)

	serverConfig := server.DefaultConfig()
	serverConfig.Hostname = settings.Hostname
	serverConfig.Port = settings.Port
	srv := server.New(serverConfig, mgr, chat, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.Run(gctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("session shutdown")
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}
