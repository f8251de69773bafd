package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberforge/engine/internal/core/event"
	"github.com/emberforge/engine/internal/core/memory"
	coresys "github.com/emberforge/engine/internal/core/system"
	"github.com/emberforge/engine/internal/persist"
	"github.com/emberforge/engine/internal/platform"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newBus(t *testing.T, opts ...event.Option) (*event.Bus, *memory.Tracker) {
	t.Helper()
	mem := memory.NewTracker(0, nil)
	bus, err := event.Startup(mem, event.DefaultLimits, zaptest.NewLogger(t), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if !bus.Closed() {
			bus.Shutdown()
		}
	})
	return bus, mem
}

type fakeWriter struct {
	batches [][]persist.FrameRecord
	err     error
}

func (w *fakeWriter) Append(_ context.Context, recs []persist.FrameRecord) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]persist.FrameRecord(nil), recs...))
	return nil
}

type fixedStats event.DispatchStats

func (s fixedStats) Last() event.DispatchStats { return event.DispatchStats(s) }

type fixedGauge struct{ live, peak int }

func (g fixedGauge) Live() int { return g.live }
func (g fixedGauge) Peak() int { return g.peak }

func TestEngineFrame_EndToEnd(t *testing.T) {
	bus, mem := newBus(t)
	script, err := platform.ParseScript([]byte(`
- frame: 1
  events:
    - {type: key_press, key: 65}
- frame: 2
  events:
    - {type: key_release, key: 65}
    - {type: resize, width: 800, height: 600}
- frame: 3
  events:
    - {type: exit}
`))
	if err != nil {
		t.Fatal(err)
	}

	runner := coresys.NewRunner()
	win := platform.NewHeadless(bus, script, "test", 1000, 800, nil)
	ws, err := NewWindowSystem(bus, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	dispatch := NewDispatchSystem(bus)
	writer := &fakeWriter{}
	journal := NewJournalSystem(writer, runner, dispatch, mem, 2, nil)

	runner.Register(journal)
	runner.Register(ws)
	runner.Register(NewInputSystem(win, runner))
	runner.Register(dispatch)
	runner.Register(NewStatsSystem(dispatch, mem, 10, nil))

	tick := func() {
		t.Helper()
		if err := runner.Tick(16 * time.Millisecond); err != nil {
			t.Fatalf("Tick() failed: %v", err)
		}
	}

	tick() // frame 0: initial expose
	if w, h := ws.Size(); w != 1000 || h != 800 {
		t.Errorf("size after expose = %dx%d", w, h)
	}
	tick() // frame 1
	if !ws.KeyDown(65) || ws.LastKey() != 65 {
		t.Error("key 65 should be down")
	}
	tick() // frame 2
	if ws.KeyDown(65) {
		t.Error("key 65 should be released")
	}
	if w, h := ws.Size(); w != 800 || h != 600 {
		t.Errorf("size after resize = %dx%d", w, h)
	}
	if ws.ExitRequested() {
		t.Error("exit requested too early")
	}
	tick() // frame 3
	if !ws.ExitRequested() {
		t.Error("exit not requested")
	}

	if got := dispatch.Total(); got.Events != 5 || got.Deliveries != 5 {
		t.Errorf("total = %+v, want 5 events and deliveries", got)
	}
	if len(writer.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(writer.batches))
	}
	second := writer.batches[1]
	if second[0].Frame != 2 || second[0].Events != 2 || second[1].Frame != 3 {
		t.Errorf("second batch = %+v", second)
	}
	if second[0].MemoryLive != int64(mem.Live()) {
		t.Errorf("memory live = %d, want %d", second[0].MemoryLive, mem.Live())
	}

	if err := ws.Close(); err != nil {
		t.Fatal(err)
	}
	if bus.Subscribers() != 0 {
		t.Errorf("subscribers after close = %d", bus.Subscribers())
	}
}

func TestInputSystem_SurfacesPollError(t *testing.T) {
	bus, _ := newBus(t)
	win := platform.NewHeadless(bus, nil, "x", 1, 1, nil)
	win.Close()
	s := NewInputSystem(win, coresys.NewRunner())
	if err := s.Update(0); !errors.Is(err, platform.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDispatchSystem_Carried(t *testing.T) {
	bus, _ := newBus(t)
	bus.Subscribe("Ping", func(*event.Event) { bus.Fire("Pong") })
	bus.Subscribe("Pong", func(*event.Event) {})
	bus.Fire("Ping")

	s := NewDispatchSystem(bus)
	if err := s.Update(0); err != nil {
		t.Fatal(err)
	}
	if got := s.Last(); got.Events != 1 || got.Carried != 1 {
		t.Errorf("first pass = %+v", got)
	}
	if err := s.Update(0); err != nil {
		t.Fatal(err)
	}
	if got := s.Last(); got.Events != 1 || got.Carried != 0 {
		t.Errorf("second pass = %+v", got)
	}
	if got := s.Total(); got.Events != 2 || got.Deliveries != 2 {
		t.Errorf("total = %+v", got)
	}
}

func TestWindowSystem_CloseAfterShutdown(t *testing.T) {
	bus, _ := newBus(t)
	ws, err := NewWindowSystem(bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	bus.Shutdown()
	if err := ws.Close(); err != nil {
		t.Errorf("Close() after shutdown = %v", err)
	}
}

func TestWindowSystem_SubscribersFull(t *testing.T) {
	limits := event.DefaultLimits
	limits.MaxSubscribers = 2
	bus, err := event.Startup(memory.NewTracker(0, nil), limits, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Shutdown()
	if _, err := NewWindowSystem(bus, nil); !errors.Is(err, event.ErrSubscribersFull) {
		t.Fatalf("expected ErrSubscribersFull, got %v", err)
	}
	if bus.Subscribers() != 0 {
		t.Errorf("partial subscriptions left behind: %d", bus.Subscribers())
	}
}

type countTicker struct{ total time.Duration }

func (c *countTicker) Tick(dt time.Duration) { c.total += dt }

func TestScriptSystem(t *testing.T) {
	c := &countTicker{}
	s := NewScriptSystem(c)
	s.Update(10 * time.Millisecond)
	s.Update(15 * time.Millisecond)
	if c.total != 25*time.Millisecond {
		t.Errorf("total = %s", c.total)
	}
	if s.Phase() != coresys.PhaseUpdate {
		t.Errorf("phase = %s", s.Phase())
	}
}

func TestJournalSystem_FlushAndDrop(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	writer := &fakeWriter{err: errors.New("db down")}
	runner := coresys.NewRunner()
	stats := fixedStats{Events: 2, Deliveries: 1}
	s := NewJournalSystem(writer, runner, stats, fixedGauge{live: 42}, 3, zap.New(core))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return at }

	for i := 0; i < 3; i++ {
		if err := s.Update(0); err != nil {
			t.Fatalf("Update() returned %v", err)
		}
	}
	if s.Dropped() != 3 || s.Buffered() != 0 {
		t.Errorf("dropped = %d, buffered = %d", s.Dropped(), s.Buffered())
	}
	if logs.FilterMessage("journal flush failed").Len() != 1 {
		t.Errorf("logs = %v", logs.All())
	}

	writer.err = nil
	s.Update(0)
	if s.Buffered() != 1 {
		t.Fatalf("buffered = %d", s.Buffered())
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Written() != 1 || len(writer.batches) != 1 {
		t.Fatalf("written = %d, batches = %d", s.Written(), len(writer.batches))
	}
	rec := writer.batches[0][0]
	if rec.Events != 2 || rec.Deliveries != 1 || rec.MemoryLive != 42 || !rec.RecordedAt.Equal(at) {
		t.Errorf("record = %+v", rec)
	}
	if err := s.Flush(context.Background()); err != nil || len(writer.batches) != 1 {
		t.Error("empty flush should be a no-op")
	}
}

func TestStatsSystem_LogsEveryInterval(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewStatsSystem(fixedStats{Events: 1, Deliveries: 2}, fixedGauge{live: 10, peak: 20}, 2, zap.New(core))
	for i := 0; i < 5; i++ {
		s.Update(0)
	}
	entries := logs.FilterMessage("engine stats").All()
	if len(entries) != 2 {
		t.Fatalf("stats lines = %d, want 2", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["events"] != int64(2) || fields["deliveries"] != int64(4) || fields["memory_peak"] != int64(20) {
		t.Errorf("fields = %v", fields)
	}
}
