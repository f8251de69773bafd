// journal inspects the frame journal an engine run writes to PostgreSQL.
//
// Usage:
//
//	go run ./cmd/journal <command> [-config path] [-run id] [-limit n] [-out path] [-input path]
//
// Commands: runs, recent, export, verify
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emberforge/engine/internal/config"
	"github.com/emberforge/engine/internal/diag"
	"github.com/emberforge/engine/internal/persist"
	"github.com/emberforge/engine/internal/platform"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// YAML output structs
// ---------------------------------------------------------------------------

type frameExportYAML struct {
	Run         int64            `yaml:"run"`
	Name        string           `yaml:"name"`
	InputDigest string           `yaml:"input_digest,omitempty"`
	Frames      []frameEntryYAML `yaml:"frames"`
}

type frameEntryYAML struct {
	Frame      uint64    `yaml:"frame"`
	Events     int       `yaml:"events"`
	Deliveries int       `yaml:"deliveries"`
	Carried    int       `yaml:"carried,omitempty"`
	MemoryLive int64     `yaml:"memory_live"`
	RecordedAt time.Time `yaml:"recorded_at"`
}

// toExport orders recs by frame ascending; the repository returns newest first.
func toExport(run *persist.RunRow, recs []persist.FrameRecord) frameExportYAML {
	out := frameExportYAML{
		Run:         run.ID,
		Name:        run.Name,
		InputDigest: run.InputDigest,
		Frames:      make([]frameEntryYAML, 0, len(recs)),
	}
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		out.Frames = append(out.Frames, frameEntryYAML{
			Frame:      r.Frame,
			Events:     r.Events,
			Deliveries: r.Deliveries,
			Carried:    r.Carried,
			MemoryLive: r.MemoryLive,
			RecordedAt: r.RecordedAt.UTC(),
		})
	}
	return out
}

func writeYAML(path string, data interface{}, comment string) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if comment != "" {
		fmt.Fprintln(f, comment)
		fmt.Fprintln(f)
	}
	_, err = f.Write(out)
	return err
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

type options struct {
	run   int64
	limit int
	out   string
	input string
}

type env struct {
	runs   *persist.RunRepo
	db     *persist.DB
	stdout io.Writer
}

func runLine(r persist.RunRow) string {
	stopped := "running"
	if r.StoppedAt != nil {
		stopped = r.StoppedAt.Format(time.RFC3339)
	}
	digest := r.InputDigest
	if len(digest) > 12 {
		digest = digest[:12]
	}
	if digest == "" {
		digest = "-"
	}
	return fmt.Sprintf("%6d  %-16s %8d frames  %s .. %s  input %s",
		r.ID, r.Name, r.Frames, r.StartedAt.Format(time.RFC3339), stopped, digest)
}

func frameLine(r persist.FrameRecord) string {
	return fmt.Sprintf("%10d  events %4d  deliveries %4d  carried %3d  memory %8d",
		r.Frame, r.Events, r.Deliveries, r.Carried, r.MemoryLive)
}

func listRuns(ctx context.Context, e env, o options) error {
	runs, err := e.runs.List(ctx, o.limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintln(e.stdout, runLine(r))
	}
	fmt.Fprintf(e.stdout, "%d runs\n", len(runs))
	return nil
}

func loadRun(ctx context.Context, e env, o options) (*persist.RunRow, error) {
	if o.run <= 0 {
		return nil, errors.New("-run is required")
	}
	run, err := e.runs.Load(ctx, o.run)
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", o.run, err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %d not found", o.run)
	}
	return run, nil
}

func recentFrames(ctx context.Context, e env, o options) error {
	run, err := loadRun(ctx, e, o)
	if err != nil {
		return err
	}
	recs, err := persist.NewFrameRepo(e.db, run.ID).Recent(ctx, o.limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, runLine(*run))
	for _, r := range recs {
		fmt.Fprintln(e.stdout, frameLine(r))
	}
	return nil
}

func exportFrames(ctx context.Context, e env, o options) error {
	run, err := loadRun(ctx, e, o)
	if err != nil {
		return err
	}
	recs, err := persist.NewFrameRepo(e.db, run.ID).Recent(ctx, o.limit)
	if err != nil {
		return err
	}
	out := o.out
	if out == "" {
		out = fmt.Sprintf("run_%d_frames.yaml", run.ID)
	}
	if err := writeYAML(out, toExport(run, recs), fmt.Sprintf("# Frame journal of run %d", run.ID)); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "  export: %d frames -> %s\n", len(recs), out)
	return nil
}

// verifyInput checks that a replay script is the one a run was driven by.
func verifyInput(ctx context.Context, e env, o options) error {
	run, err := loadRun(ctx, e, o)
	if err != nil {
		return err
	}
	script, err := platform.LoadScript(o.input)
	if err != nil {
		return err
	}
	if script.Digest() != run.InputDigest {
		return fmt.Errorf("run %d was not driven by %s", run.ID, o.input)
	}
	fmt.Fprintf(e.stdout, "  verify: run %d matches %s\n", run.ID, o.input)
	return nil
}

// ---------------------------------------------------------------------------
// main
// ---------------------------------------------------------------------------

func printUsage() {
	fmt.Println("Usage: journal <command> [-config path] [-run id] [-limit n] [-out path] [-input path]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  runs      List recent engine runs")
	fmt.Println("  recent    Print the newest frames of -run")
	fmt.Println("  export    Write frames of -run to YAML (-out)")
	fmt.Println("  verify    Check that -input is the replay script -run was driven by")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	commands := map[string]func(context.Context, env, options) error{
		"runs":   listRuns,
		"recent": recentFrames,
		"export": exportFrames,
		"verify": verifyInput,
	}
	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	defaultConfig := "config/engine.toml"
	if p := os.Getenv("ENGINE_CONFIG"); p != "" {
		defaultConfig = p
	}
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfig, "engine config file")
	var o options
	fs.Int64Var(&o.run, "run", 0, "run id")
	fs.IntVar(&o.limit, "limit", 20, "maximum rows")
	fs.StringVar(&o.out, "out", "", "export file")
	fs.StringVar(&o.input, "input", "data/input/replay.yaml", "replay script to verify")
	_ = fs.Parse(os.Args[2:])

	if err := execute(*cfgPath, fn, o); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func execute(cfgPath string, fn func(context.Context, env, options) error, o options) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := diag.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	return fn(ctx, env{runs: persist.NewRunRepo(db), db: db, stdout: os.Stdout}, o)
}
