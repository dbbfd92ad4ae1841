// Command hostd is the single long-running core process spec.md §2
// describes: one process hosting the scheduler, arbiter, dispatcher,
// and turn pipeline for every game it manages. Grounded on the
// teacher's cmd/game-service/main.go sequencing (load config, set up
// logging, start metrics, open the database, build services, start
// servers, wait for a shutdown signal), collapsed from three
// microservices' worth of wiring into one.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/starrealm/hoststar/internal/arbiter"
	"github.com/starrealm/hoststar/internal/authtoken"
	"github.com/starrealm/hoststar/internal/collab/fake"
	"github.com/starrealm/hoststar/internal/dispatcher"
	"github.com/starrealm/hoststar/internal/game"
	"github.com/starrealm/hoststar/internal/player"
	"github.com/starrealm/hoststar/internal/schedule"
	"github.com/starrealm/hoststar/internal/scheduler"
	"github.com/starrealm/hoststar/internal/server"
	"github.com/starrealm/hoststar/internal/store"
	"github.com/starrealm/hoststar/internal/subprocrunner"
	"github.com/starrealm/hoststar/internal/timesource"
	"github.com/starrealm/hoststar/internal/tools"
	"github.com/starrealm/hoststar/internal/turn"
	"github.com/starrealm/hoststar/pkg/config"
	"github.com/starrealm/hoststar/pkg/database"
	"github.com/starrealm/hoststar/pkg/logging"
	"github.com/starrealm/hoststar/pkg/metrics"
)

var (
	version   string = "dev"
	buildTime string = "unknown"
	gitCommit string = "unknown"
)

const serviceName = "hostd"

func main() {
	var (
		configFile  = flag.String("config", "configs/hostd.yaml", "Path to configuration file")
		noCron      = flag.Bool("nocron", false, "Disable the scheduler worker (spec.md §6 CLI flag)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("hoststar\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n", version, buildTime, gitCommit)
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(serviceName, cfg.Logging)
	logger.Info("starting hoststar core", "version", version)

	metricsRegistry := metrics.NewRegistry(serviceName, version, buildTime, gitCommit, logger)
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		go func() {
			if err := metricsRegistry.StartMetricsServer(cfg.Metrics.Port); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	runnerClient, err := subprocrunner.Start(cfg.Runner.HelperPath, logging.NewServiceLogger(serviceName, "runner", cfg.Logging))
	if err != nil {
		logger.Error("failed to start subprocess runner", "error", err)
		os.Exit(1)
	}
	defer runnerClient.Stop(context.Background())

	arb := arbiter.New()
	toolsReg := tools.NewRegistry()

	hashFunc := sha256Hex
	hostFiles := fake.NewFileService(hashFunc)
	userFiles := fake.NewFileService(hashFunc)
	forum := fake.NewForumService()

	clock := timesource.New(cfg.Scheduler.TimeScale)

	gameSvc := game.New(st, arb, toolsReg, forum)

	var sched *scheduler.Worker
	checker := subprocrunner.TurnChecker{Client: runnerClient, CheckerPath: cfg.Runner.CheckerPath}
	notifier := schedulerNotifier{worker: &sched}

	turnSvc := turn.New(st, hostFiles, checker, notifier)
	playerSvc := player.New(st, userFiles, notifier)

	engineRun := &engineRunner{store: st, toolsReg: toolsReg, runner: runnerClient}
	buildIn := newInputBuilder(st, clock)
	sched = scheduler.New(st, arb, engineRun, clock, buildIn, logging.NewServiceLogger(serviceName, "scheduler", cfg.Logging))

	tokens := authtoken.New([]byte(cfg.Auth.Secret), cfg.Auth.Issuer, cfg.Auth.LifetimeDuration())
	disp := dispatcher.New(st, gameSvc, playerSvc, turnSvc, sched, toolsReg, hostFiles, tokens, logging.NewServiceLogger(serviceName, "dispatcher", cfg.Logging), metricsRegistry)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, cfg.Server.MaxConnections, disp.HandleConn, logging.NewServiceLogger(serviceName, "server", cfg.Logging))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *noCron {
		logger.Info("scheduler worker disabled by --nocron")
	} else {
		go sched.Run(ctx)
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	waitForShutdown(ctx, cancel, srv, metricsRegistry, cfg, logger)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func loadConfig(path string) (*config.ServiceConfig, error) {
	if _, err := os.Stat(path); err == nil {
		return config.LoadServiceConfig(path)
	}
	return config.LoadServiceConfig("")
}

func openStore(cfg *config.ServiceConfig) (store.Store, func(), error) {
	conn, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection: %w", err)
	}
	s, err := store.NewSQLStore(context.Background(), conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("store migration: %w", err)
	}
	return s, func() { conn.Close() }, nil
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, srv *server.Server, metricsRegistry *metrics.Registry, cfg *config.ServiceConfig, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping server", "error", err)
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := metricsRegistry.StopMetricsServer(shutdownCtx); err != nil {
			logger.Error("error stopping metrics server", "error", err)
		}
	}

	cancel()
	logger.Info("hoststar core shutdown complete")
}

// schedulerNotifier adapts a *scheduler.Worker, constructed after
// internal/turn.Service and internal/player.Service, into their
// SchedulerNotifier interface via a pointer indirection (both services
// are built before the worker that notifies them exists).
type schedulerNotifier struct {
	worker **scheduler.Worker
}

func (n schedulerNotifier) HandleGameChange(ctx context.Context, gameID string) {
	if *n.worker != nil {
		(*n.worker).HandleGameChange(ctx, gameID)
	}
}

// engineRunner implements internal/scheduler.Engine by invoking the
// game's host or master tool binary through the subprocess runner and
// advancing its turn counter on a clean exit (spec.md §4.11's
// "returns streamed stdout plus an exit status", §4.3 "run the
// external engine, re-import results").
type engineRunner struct {
	store    store.Store
	toolsReg *tools.Registry
	runner   *subprocrunner.Client
}

func (e *engineRunner) Run(ctx context.Context, gameID string, action schedule.Action) error {
	g, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return err
	}

	kind := tools.KindHost
	if action == schedule.ActionMaster {
		kind = tools.KindMaster
	}
	toolID, ok := g.Tools[string(kind)]
	if !ok {
		toolID = ""
	}
	t, ok := e.toolsReg.Catalog(kind).Get(toolID)
	if !ok {
		t, ok = e.toolsReg.Catalog(kind).Default()
		if !ok {
			return fmt.Errorf("engine: no %s tool configured for game %s", kind, gameID)
		}
	}

	res, err := e.runner.Run(ctx, t.Path+"/"+t.Executable, nil, g.Directory)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("engine: %s run exited %d: %s", kind, res.ExitCode, res.Stdout)
	}

	_, err = e.store.UpdateGame(ctx, gameID, func(g *store.Game) error {
		g.Turn++
		return nil
	})
	return err
}

// newInputBuilder closes over the store to satisfy
// internal/scheduler.InputBuilder (spec.md §4.3), reading the game's
// top schedule item, current turn, and per-slot readiness.
func newInputBuilder(st store.Store, clock *timesource.Source) scheduler.InputBuilder {
	return func(ctx context.Context, gameID string) (schedule.Input, error) {
		g, err := st.GetGame(ctx, gameID)
		if err != nil {
			return schedule.Input{}, err
		}
		items := schedule.GetAll(g)
		if len(items) == 0 {
			return schedule.Input{}, nil
		}

		slots, err := st.ListSlots(ctx, gameID)
		if err != nil {
			return schedule.Input{}, err
		}
		readiness := make([]schedule.SlotReadiness, len(slots))
		for i, s := range slots {
			readiness[i] = schedule.SlotReadiness{
				Occupied:    s.Occupied(),
				State:       s.State.Base(),
				IsTemporary: s.State.IsTemporary(),
			}
		}

		return schedule.Input{
			Item:        items[0],
			CurrentTurn: g.Turn,
			Now:         clock.Now(),
			Slots:       readiness,
			HasMastered: g.Turn > 0,
		}, nil
	}
}
