package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberforge/engine/internal/config"
	"github.com/emberforge/engine/internal/core/event"
	"github.com/emberforge/engine/internal/core/memory"
	coresys "github.com/emberforge/engine/internal/core/system"
	"github.com/emberforge/engine/internal/diag"
	"github.com/emberforge/engine/internal/persist"
	"github.com/emberforge/engine/internal/platform"
	"github.com/emberforge/engine/internal/scripting"
	"github.com/emberforge/engine/internal/system"
	"go.uber.org/zap"
)

const version = "v0.1.0"

// statsInterval is how often the frame summary is logged.
const statsInterval = 600

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/engine.toml"
	if p := os.Getenv("ENGINE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := diag.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	policy, err := diag.ParsePolicy(cfg.Diagnostics.OnFatal)
	if err != nil {
		return fmt.Errorf("diagnostics: %w", err)
	}
	delivery, _ := event.ParseDelivery(cfg.Event.Delivery)

	printBanner(cfg.Engine.Name, version)

	// 3. Memory port; reported last, after everything has given its storage back
	printSection("Memory")
	mem := memory.NewTracker(cfg.Memory.Budget, log)
	defer mem.Shutdown()
	printStat("budget bytes", cfg.Memory.Budget)

	// 4. Event system
	printSection("Events")
	limits := event.Limits{
		MaxEvents:      cfg.Event.MaxEvents,
		MaxSubscribers: cfg.Event.MaxSubscribers,
		MaxArgs:        cfg.Event.MaxArgs,
		MaxTypeLen:     cfg.Event.MaxTypeLen,
		MaxKeyLen:      cfg.Event.MaxKeyLen,
	}
	bus, err := event.Startup(mem, limits, log,
		event.WithPolicy(policy),
		event.WithDelivery(delivery),
	)
	if err != nil {
		return fmt.Errorf("event system: %w", err)
	}
	defer func() {
		if err := bus.Shutdown(); err != nil {
			log.Error("event system shutdown", zap.Error(err))
		}
	}()
	printStat("event slots", limits.MaxEvents)
	printStat("subscriber slots", limits.MaxSubscribers)
	printStat("table bytes", int(mem.Usage(memory.TagEvent).Allocated))
	printOK(fmt.Sprintf("delivery: %s, on fatal: %s", delivery, policy))
	fmt.Println()

	// 5. Platform window
	printSection("Platform")
	var script *platform.Script
	if cfg.Input.Script != "" {
		script, err = platform.LoadScript(cfg.Input.Script)
		if err != nil {
			return fmt.Errorf("input: %w", err)
		}
		printStat("scripted frames", script.Count())
	}
	win := platform.NewHeadless(bus, script, cfg.Input.Title, cfg.Input.Width, cfg.Input.Height, log)
	defer win.Close()

	// The window system subscribes before scripts so first-match delivery
	// still reaches it.
	windowSys, err := system.NewWindowSystem(bus, log)
	if err != nil {
		return fmt.Errorf("window system: %w", err)
	}
	defer windowSys.Close()
	printOK(fmt.Sprintf("window %q %dx%d", cfg.Input.Title, cfg.Input.Width, cfg.Input.Height))
	fmt.Println()

	// 6. Systems
	runner := coresys.NewRunner()
	dispatchSys := system.NewDispatchSystem(bus)
	runner.Register(system.NewInputSystem(win, runner))
	runner.Register(dispatchSys)
	runner.Register(windowSys)
	runner.Register(system.NewStatsSystem(dispatchSys, mem, statsInterval, log))

	// 7. Lua scripting
	if cfg.Scripting.Enabled {
		printSection("Scripting")
		scripts, err := scripting.NewEngine(cfg.Scripting.Dir, bus, mem, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer scripts.Close()
		runner.Register(system.NewScriptSystem(scripts))
		printStat("lua subscriptions", scripts.Subscriptions())
		fmt.Println()
	}

	// 8. Frame journal in PostgreSQL
	if cfg.Database.Enabled {
		printSection("Database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		schema, err := persist.RunMigrations(ctx, db.Pool, log)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printStat("schema version", int(schema))

		runs := persist.NewRunRepo(db)
		runID, err := runs.Start(ctx, cfg.Engine.Name, script.Digest())
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		journal := system.NewJournalSystem(persist.NewFrameRepo(db, runID), runner, dispatchSys, mem, cfg.Journal.Interval, log)
		runner.Register(journal)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := journal.Flush(ctx); err != nil {
				log.Error("journal final flush", zap.Error(err))
			}
			if err := runs.Stop(ctx, runID, runner.Frame()); err != nil {
				log.Error("journal stop run", zap.Error(err))
			}
			log.Info("journal closed",
				zap.Int64("run", runID),
				zap.Uint64("written", journal.Written()),
				zap.Uint64("dropped", journal.Dropped()),
			)
		}()
		printStat("journal run", int(runID))
		fmt.Println()
	}

	// 9. Frame loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	ticker := time.NewTicker(cfg.Engine.TickRate)
	defer ticker.Stop()

	printSection("Ready")
	printReady(fmt.Sprintf("frame loop started (tick: %s)", cfg.Engine.TickRate))
	if cfg.Engine.MaxFrames > 0 {
		printReady(fmt.Sprintf("stopping after %d frames", cfg.Engine.MaxFrames))
	}
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			if err := runner.Tick(cfg.Engine.TickRate); err != nil {
				return fmt.Errorf("frame %d: %w", runner.Frame(), err)
			}
			if windowSys.ExitRequested() {
				logStop(log, "window exit request", runner, cfg.Engine.StartTime)
				return nil
			}
			if cfg.Engine.MaxFrames > 0 && runner.Frame() >= cfg.Engine.MaxFrames {
				logStop(log, "frame limit", runner, cfg.Engine.StartTime)
				return nil
			}
		case sig := <-shutdownCh:
			logStop(log, "signal "+sig.String(), runner, cfg.Engine.StartTime)
			return nil
		}
	}
}

func logStop(log *zap.Logger, reason string, runner *coresys.Runner, startUnix int64) {
	log.Info("engine stopping",
		zap.String("reason", reason),
		zap.Uint64("frames", runner.Frame()),
		zap.Duration("uptime", time.Since(time.Unix(startUnix, 0)).Round(time.Second)),
	)
}
