package scripting

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emberforge/engine/internal/core/event"
	"github.com/emberforge/engine/internal/core/memory"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newBus(t *testing.T) *event.Bus {
	t.Helper()
	bus, err := event.Startup(memory.NewTracker(0, nil), event.DefaultLimits, zaptest.NewLogger(t),
		event.WithDelivery(event.DeliverAll))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if !bus.Closed() {
			bus.Shutdown()
		}
	})
	return bus
}

func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newEngine(t *testing.T, bus *event.Bus, log *zap.Logger, files map[string]string) *Engine {
	t.Helper()
	e, err := NewEngine(writeScripts(t, files), bus, memory.NewTracker(0, nil), log)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return e
}

func dispatch(t *testing.T, bus *event.Bus) {
	t.Helper()
	if _, err := bus.Dispatch(); err != nil {
		t.Fatal(err)
	}
}

func TestNewEngine_LoadsInNameOrder(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{
		"b.lua":      `order = order .. "b"`,
		"a.lua":      `order = "a"`,
		"notes.txt":  `this is not lua`,
		"c_last.lua": `order = order .. "c"`,
	})
	defer e.Close()

	if got := lua.LVAsString(e.vm.GetGlobal("order")); got != "abc" {
		t.Errorf("order = %q, want abc", got)
	}
	if got := lua.LVAsNumber(e.vm.GetGlobal("API_VERSION")); got != 1 {
		t.Errorf("API_VERSION = %v", got)
	}
}

func TestNewEngine_MissingDirIsEmpty(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "none"), newBus(t), memory.NewTracker(0, nil), nil)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	e.Close()
}

func TestNewEngine_SyntaxError(t *testing.T) {
	dir := writeScripts(t, map[string]string{"broken.lua": "function ("})
	mem := memory.NewTracker(0, nil)
	if _, err := NewEngine(dir, newBus(t), mem, nil); err == nil {
		t.Fatal("expected load error")
	}
	if got := mem.Usage(memory.TagScratch).Live(); got != 0 {
		t.Errorf("scratch left allocated after failed load: %d bytes", got)
	}
}

func TestNewEngine_StagesSourcesInScratch(t *testing.T) {
	long := "padding = \"" + strings.Repeat("x", 200) + "\"\n"
	dir := writeScripts(t, map[string]string{
		"a.lua":     `short = 1`,
		"b.lua":     long,
		"empty.lua": ``,
	})
	mem := memory.NewTracker(0, nil)
	e, err := NewEngine(dir, newBus(t), mem, nil)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	defer e.Close()

	usage := mem.Usage(memory.TagScratch)
	if usage.Allocated != uint64(len(long)) {
		t.Errorf("scratch allocated = %d, want the largest script, %d", usage.Allocated, len(long))
	}
	if usage.Live() != 0 {
		t.Errorf("scratch live after load = %d", usage.Live())
	}
	if got := lua.LVAsNumber(e.vm.GetGlobal("short")); got != 1 {
		t.Errorf("short = %v", got)
	}
	if got := len(lua.LVAsString(e.vm.GetGlobal("padding"))); got != 200 {
		t.Errorf("padding length = %d", got)
	}
}

func TestNewEngine_ScratchOverBudget(t *testing.T) {
	dir := writeScripts(t, map[string]string{"a.lua": `x = 1`})
	mem := memory.NewTracker(1, nil)
	if _, err := NewEngine(dir, newBus(t), mem, nil); !errors.Is(err, memory.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestSubscribe_ReceivesTypeAndArgs(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{"keys.lua": `
received = {}
sub_id = bus.subscribe("Key_Press", function(ev)
  table.insert(received, ev.type .. ":" .. tostring(ev.args.Key))
end)
`})
	defer e.Close()

	if e.Subscriptions() != 1 || bus.Subscribers() != 1 {
		t.Fatalf("subscriptions = %d, bus subscribers = %d", e.Subscriptions(), bus.Subscribers())
	}
	if err := bus.Post(event.TypeKeyPress, event.Arg{Key: event.ArgKey, Value: event.Int32(38)}); err != nil {
		t.Fatal(err)
	}
	dispatch(t, bus)

	received := e.vm.GetGlobal("received").(*lua.LTable)
	if received.Len() != 1 || lua.LVAsString(received.RawGetInt(1)) != "Key_Press:38" {
		t.Errorf("received = %v", received.RawGetInt(1))
	}
}

func TestUnsubscribe_FromLua(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{"unsub.lua": `
hits = 0
local id = bus.subscribe("Key_Press", function(ev) hits = hits + 1 end)
function drop() bus.unsubscribe("Key_Press", id) end
`})
	defer e.Close()

	if err := e.vm.CallByParam(lua.P{Fn: e.vm.GetGlobal("drop"), Protect: true}); err != nil {
		t.Fatal(err)
	}
	if e.Subscriptions() != 0 || bus.Subscribers() != 0 {
		t.Fatalf("subscriptions = %d, bus subscribers = %d", e.Subscriptions(), bus.Subscribers())
	}
	bus.Fire(event.TypeKeyPress)
	dispatch(t, bus)
	if got := lua.LVAsNumber(e.vm.GetGlobal("hits")); got != 0 {
		t.Errorf("hits = %v, want 0", got)
	}
}

func TestTick_PostsFromLua(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{"tick.lua": `
elapsed = 0
function on_tick(dt)
  elapsed = elapsed + dt
  bus.post("Window_Resize", {Width = 10, Height = 20})
end
`})
	defer e.Close()

	var w, h int32
	bus.Subscribe(event.TypeWindowResize, func(ev *event.Event) {
		w = bus.GetArgument(ev, event.ArgWidth).Int32()
		h = bus.GetArgument(ev, event.ArgHeight).Int32()
	})
	e.Tick(500 * time.Millisecond)
	dispatch(t, bus)

	if w != 10 || h != 20 {
		t.Errorf("resize = %dx%d, want 10x20", w, h)
	}
	if got := lua.LVAsNumber(e.vm.GetGlobal("elapsed")); got != 0.5 {
		t.Errorf("elapsed = %v, want 0.5", got)
	}
}

func TestTick_NoHandlerIsNoop(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{"empty.lua": `x = 1`})
	defer e.Close()
	e.Tick(time.Second)
	if bus.Pending() != 0 {
		t.Errorf("pending = %d", bus.Pending())
	}
}

func TestFireWithArguments(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{"fire.lua": `
function shoot()
  bus.fire("Shot")
  bus.set_arg("Shot", 0, "speed", 2.5)
  bus.set_arg("Shot", 1, "ammo", 7)
  bus.set_char("Shot", 2, "grade", "A")
end
`})
	defer e.Close()

	var args []event.Arg
	bus.Subscribe("Shot", func(ev *event.Event) { args = ev.Args() })
	if err := e.vm.CallByParam(lua.P{Fn: e.vm.GetGlobal("shoot"), Protect: true}); err != nil {
		t.Fatal(err)
	}
	dispatch(t, bus)

	if len(args) != 3 {
		t.Fatalf("args = %v", args)
	}
	if args[0].Key != "speed" || args[0].Value.Kind() != event.KindFloat32 || args[0].Value.Float32() != 2.5 {
		t.Errorf("speed = %v", args[0])
	}
	if args[1].Key != "ammo" || args[1].Value.Kind() != event.KindInt32 || args[1].Value.Int32() != 7 {
		t.Errorf("ammo = %v", args[1])
	}
	if args[2].Key != "grade" || args[2].Value.Char() != 'A' {
		t.Errorf("grade = %v", args[2])
	}
}

func TestBusErrorsRaiseInLua(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{"bad.lua": `
ok_empty = pcall(bus.fire, "")
ok_long = pcall(bus.fire, "a_type_name_that_is_far_too_long")
ok_post = pcall(bus.post, "Odd", {[1] = 2})
`})
	defer e.Close()

	for _, name := range []string{"ok_empty", "ok_long", "ok_post"} {
		if e.vm.GetGlobal(name) != lua.LFalse {
			t.Errorf("%s = %v, want false", name, e.vm.GetGlobal(name))
		}
	}
	if bus.Pending() != 0 {
		t.Errorf("pending = %d, want 0", bus.Pending())
	}
}

func TestCallbackErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bus := newBus(t)
	e := newEngine(t, bus, zap.New(core), map[string]string{"boom.lua": `
bus.subscribe("Key_Release", function(ev) error("boom") end)
`})
	defer e.Close()

	bus.Fire(event.TypeKeyRelease)
	dispatch(t, bus)

	if logs.FilterMessage("lua callback error").Len() != 1 {
		t.Errorf("expected one callback error, got %v", logs.All())
	}
}

func TestClose_DropsSubscriptions(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{"subs.lua": `
bus.subscribe("Key_Press", function(ev) end)
bus.subscribe("Key_Release", function(ev) end)
`})
	bus.Subscribe(event.TypeKeyPress, func(*event.Event) {})

	e.Close()
	if bus.Subscribers() != 1 {
		t.Errorf("subscribers = %d, want only the Go one", bus.Subscribers())
	}
}

func TestClose_AfterBusShutdown(t *testing.T) {
	bus := newBus(t)
	e := newEngine(t, bus, nil, map[string]string{"subs.lua": `bus.subscribe("Key_Press", function(ev) end)`})
	if err := bus.Shutdown(); err != nil {
		t.Fatal(err)
	}
	e.Close()
}

func TestNumberValue(t *testing.T) {
	tests := []struct {
		in   lua.LNumber
		kind event.Kind
	}{
		{3, event.KindInt32},
		{-7, event.KindInt32},
		{0.25, event.KindFloat32},
		{1 << 40, event.KindFloat32},
	}
	for _, tt := range tests {
		if got := numberValue(tt.in).Kind(); got != tt.kind {
			t.Errorf("numberValue(%v) kind = %s, want %s", tt.in, got, tt.kind)
		}
	}
}
