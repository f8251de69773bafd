package scripting

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/emberforge/engine/internal/core/arena"
	"github.com/emberforge/engine/internal/core/event"
	"github.com/emberforge/engine/internal/core/memory"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM bound to an event bus.
// Single-goroutine access only (game loop).
type Engine struct {
	vm   *lua.LState
	bus  *event.Bus
	mem  memory.Provider
	subs map[event.SubscriptionID]string // id -> type, for Close
	log  *zap.Logger
}

// NewEngine creates a Lua engine, installs the bus table and loads every
// script in dir in name order. Script sources are staged in a scratch arena
// taken from mem and given back once they are compiled.
func NewEngine(dir string, bus *event.Bus, mem memory.Provider, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{
		vm:   vm,
		bus:  bus,
		mem:  mem,
		subs: make(map[event.SubscriptionID]string),
		log:  log.Named("lua"),
	}
	e.registerBus()

	if err := e.loadDir(dir); err != nil {
		e.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Warn("script directory missing", zap.String("dir", dir))
			return nil
		}
		return err
	}

	var paths []string
	largest := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
		largest = max(largest, int(info.Size()))
	}
	if len(paths) == 0 {
		return nil
	}

	scratch, err := arena.New(e.mem, max(largest, 1), e.log, arena.WithTag(memory.TagScratch))
	if err != nil {
		return fmt.Errorf("script scratch: %w", err)
	}
	defer scratch.Destroy()

	for _, path := range paths {
		if err := e.loadFile(scratch, path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// loadFile reads path into scratch, compiles and runs it, then releases the
// bytes for the next file.
func (e *Engine) loadFile(scratch *arena.Arena, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := int(info.Size())
	if size > scratch.Cap() {
		return fmt.Errorf("%d bytes, scratch holds %d", size, scratch.Cap())
	}

	var src []byte
	if size > 0 {
		r, err := scratch.Acquire(size)
		if err != nil {
			return err
		}
		defer scratch.Release(size)
		if src, err = scratch.Bytes(r); err != nil {
			return err
		}
		if _, err := io.ReadFull(f, src); err != nil {
			return err
		}
	}

	fn, err := e.vm.Load(bytes.NewReader(src), path)
	if err != nil {
		return err
	}
	e.vm.Push(fn)
	return e.vm.PCall(0, lua.MultRet, nil)
}

func (e *Engine) registerBus() {
	t := e.vm.NewTable()
	e.vm.SetFuncs(t, map[string]lua.LGFunction{
		"subscribe":   e.luaSubscribe,
		"unsubscribe": e.luaUnsubscribe,
		"fire":        e.luaFire,
		"set_arg":     e.luaSetArg,
		"set_char":    e.luaSetChar,
		"post":        e.luaPost,
	})
	e.vm.SetGlobal("bus", t)
}

// raise turns a bus error into a Lua error so scripts can pcall around it.
func raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

// bus.subscribe(type, fn) -> id
func (e *Engine) luaSubscribe(L *lua.LState) int {
	typ := L.CheckString(1)
	fn := L.CheckFunction(2)
	id, err := e.bus.Subscribe(typ, func(ev *event.Event) {
		e.deliver(fn, ev)
	})
	if err != nil {
		return raise(L, err)
	}
	e.subs[id] = typ
	L.Push(lua.LNumber(id))
	return 1
}

// bus.unsubscribe(type, id)
func (e *Engine) luaUnsubscribe(L *lua.LState) int {
	typ := L.CheckString(1)
	id := event.SubscriptionID(L.CheckInt64(2))
	if err := e.bus.Unsubscribe(typ, id); err != nil {
		return raise(L, err)
	}
	delete(e.subs, id)
	return 0
}

// bus.fire(type)
func (e *Engine) luaFire(L *lua.LState) int {
	if err := e.bus.Fire(L.CheckString(1)); err != nil {
		return raise(L, err)
	}
	return 0
}

// bus.set_arg(type, index, key, number); index is the 0-based slot.
func (e *Engine) luaSetArg(L *lua.LState) int {
	typ := L.CheckString(1)
	index := L.CheckInt(2)
	key := L.CheckString(3)
	n := L.CheckNumber(4)
	if err := e.bus.SetArgument(typ, index, key, numberValue(n)); err != nil {
		return raise(L, err)
	}
	return 0
}

// bus.set_char(type, index, key, ch)
func (e *Engine) luaSetChar(L *lua.LState) int {
	typ := L.CheckString(1)
	index := L.CheckInt(2)
	key := L.CheckString(3)
	ch := L.CheckString(4)
	if ch == "" {
		L.ArgError(4, "empty character")
		return 0
	}
	if err := e.bus.SetArgument(typ, index, key, event.Char([]rune(ch)[0])); err != nil {
		return raise(L, err)
	}
	return 0
}

// bus.post(type, {key = value, ...}); keys are stored in sorted order.
func (e *Engine) luaPost(L *lua.LState) int {
	typ := L.CheckString(1)
	tbl := L.OptTable(2, nil)

	var args []event.Arg
	if tbl != nil {
		var bad lua.LValue
		tbl.ForEach(func(k, v lua.LValue) {
			key, ok := k.(lua.LString)
			if !ok {
				bad = k
				return
			}
			val, ok := luaValue(v)
			if !ok {
				bad = k
				return
			}
			args = append(args, event.Arg{Key: string(key), Value: val})
		})
		if bad != nil {
			L.ArgError(2, fmt.Sprintf("unsupported argument %s", bad.String()))
			return 0
		}
		sort.Slice(args, func(i, j int) bool { return args[i].Key < args[j].Key })
	}
	if err := e.bus.Post(typ, args...); err != nil {
		return raise(L, err)
	}
	return 0
}

// deliver calls a Lua subscriber with {type=..., args={...}}.
func (e *Engine) deliver(fn *lua.LFunction, ev *event.Event) {
	t := e.vm.NewTable()
	t.RawSetString("type", lua.LString(ev.Type()))
	args := e.vm.NewTable()
	for _, a := range ev.Args() {
		args.RawSetString(a.Key, goValue(a.Value))
	}
	t.RawSetString("args", args)

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua callback error", zap.String("type", ev.Type()), zap.Error(err))
	}
}

// Tick calls the optional global on_tick(seconds).
func (e *Engine) Tick(dt time.Duration) {
	fn := e.vm.GetGlobal("on_tick")
	if fn == lua.LNil {
		return
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(dt.Seconds())); err != nil {
		e.log.Error("lua on_tick error", zap.Error(err))
	}
}

// Subscriptions returns how many bus registrations scripts currently hold.
func (e *Engine) Subscriptions() int { return len(e.subs) }

// Close drops the scripts' subscriptions and shuts down the Lua VM.
func (e *Engine) Close() {
	if !e.bus.Closed() {
		for id, typ := range e.subs {
			if err := e.bus.Unsubscribe(typ, id); err != nil {
				e.log.Warn("drop lua subscription", zap.String("type", typ), zap.Error(err))
			}
		}
	}
	e.subs = nil
	e.vm.Close()
}

// numberValue maps a Lua number to Int32 when it is integral and fits,
// Float32 otherwise.
func numberValue(n lua.LNumber) event.Value {
	f := float64(n)
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return event.Int32(int32(f))
	}
	return event.Float32(float32(f))
}

func luaValue(v lua.LValue) (event.Value, bool) {
	switch x := v.(type) {
	case lua.LNumber:
		return numberValue(x), true
	case lua.LString:
		if x == "" {
			return event.Value{}, false
		}
		return event.Char([]rune(string(x))[0]), true
	}
	return event.Value{}, false
}

func goValue(v event.Value) lua.LValue {
	switch v.Kind() {
	case event.KindInt32:
		return lua.LNumber(v.Int32())
	case event.KindUint32:
		return lua.LNumber(v.Uint32())
	case event.KindFloat32:
		return lua.LNumber(v.Float32())
	case event.KindChar:
		return lua.LString(string(v.Char()))
	}
	return lua.LNil
}
