package engine

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"scriptroom/internal/execution"
)

// luaSandbox runs a body as a Lua chunk whose leading locals are bound from
// the chunk's varargs.
type luaSandbox struct {
	inv *invocation
	L   *lua.LState
}

func newLuaSandbox(inv *invocation) *luaSandbox {
	L := newSandboxState()
	ctx, cancel := context.WithCancel(context.Background())
	L.SetContext(ctx)
	inv.loop.onClose(cancel)
	inv.loop.onExit(L.Close)
	return &luaSandbox{inv: inv, L: L}
}

// newSandboxState opens the standard libraries and removes the ones that
// reach outside the process.
func newSandboxState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)
	return L
}

// wrapLua prefixes the body with the local bindings on the same line so error
// line numbers match the source.
func wrapLua(names []string, code string) string {
	return "local " + strings.Join(names, ", ") + " = ...; " + code
}

func compileLua(name string, names []string, code string) error {
	L := newSandboxState()
	defer L.Close()
	if _, err := L.LoadString(wrapLua(names, code)); err != nil {
		return fmt.Errorf("lua syntax error in %s: %w", name, err)
	}
	return nil
}

func (s *luaSandbox) start(settle func(outcome)) {
	defer func() {
		if r := recover(); r != nil {
			settle(outcome{err: fmt.Errorf("lua panic: %v", r)})
		}
	}()

	L := s.L
	inv := s.inv
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		inv.logger.Info("script log", "msg", luaArgs(L))
		return 0
	}))

	fn, err := L.LoadString(wrapLua(inv.bindingNames(), inv.script.Code))
	if err != nil {
		settle(outcome{err: fmt.Errorf("lua syntax error: %w", err)})
		return
	}

	args := []lua.LValue{s.controlTable(), s.consoleTable()}
	for _, m := range inv.engine.cfg.Capabilities.Modules {
		args = append(args, s.moduleTable(m))
	}
	for _, v := range inv.script.ParameterValues() {
		args = append(args, goToLua(L, plainValue(v)))
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		settle(outcome{err: err})
		return
	}
	ret := L.Get(-1)
	L.Pop(1)
	settle(s.classify(ret))
}

func (s *luaSandbox) controlTable() *lua.LTable {
	L := s.L
	inv := s.inv
	t := L.NewTable()
	t.RawSetString("id", lua.LString(inv.script.ID))

	t.RawSetString("stopSelf", L.NewFunction(func(L *lua.LState) int {
		if err := inv.ctl.stopSelf(); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	t.RawSetString("continueExecution", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		stop := L.CheckFunction(2)
		ret := L.NewTable()
		ret.RawSetString("executionName", lua.LString(name))
		ret.RawSetString("stop", stop)
		L.Push(ret)
		return 1
	}))

	timer := func(repeat bool) *lua.LFunction {
		return L.NewFunction(func(L *lua.LState) int {
			d := millisFloat(float64(L.CheckNumber(1)))
			cb := L.CheckFunction(2)
			run := func() {
				if err := s.L.CallByParam(lua.P{Fn: cb, NRet: 0, Protect: true}); err != nil {
					inv.logger.Warn("timer callback failed", "err", err)
				}
			}
			var cancel func()
			if repeat {
				cancel = inv.loop.every(d, run)
			} else {
				cancel = inv.loop.after(d, run)
			}
			L.Push(L.NewFunction(func(L *lua.LState) int {
				cancel()
				return 0
			}))
			return 1
		})
	}
	t.RawSetString("every", timer(true))
	t.RawSetString("after", timer(false))
	return t
}

func (s *luaSandbox) consoleTable() *lua.LTable {
	L := s.L
	logger := s.inv.logger
	t := L.NewTable()
	t.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		logger.Info("script log", "msg", luaArgs(L))
		return 0
	}))
	t.RawSetString("info", L.NewFunction(func(L *lua.LState) int {
		logger.Info("script log", "msg", luaArgs(L))
		return 0
	}))
	t.RawSetString("debug", L.NewFunction(func(L *lua.LState) int {
		logger.Debug("script log", "msg", luaArgs(L))
		return 0
	}))
	t.RawSetString("warn", L.NewFunction(func(L *lua.LState) int {
		logger.Warn("script log", "msg", luaArgs(L))
		return 0
	}))
	t.RawSetString("error", L.NewFunction(func(L *lua.LState) int {
		logger.Error("script log", "msg", luaArgs(L))
		return 0
	}))
	return t
}

func (s *luaSandbox) moduleTable(m Module) *lua.LTable {
	L := s.L
	t := L.NewTable()
	for name, fn := range m.Funcs {
		fn := fn
		t.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			n := L.GetTop()
			args := make([]any, n)
			for i := 1; i <= n; i++ {
				args[i-1] = luaToGo(L.Get(i))
			}
			res, err := s.inv.call(fn, args)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(goToLua(L, res))
			return 1
		}))
	}
	return t
}

// classify mirrors the JavaScript rules: a table with a stop function and an
// executionName string, or a bare function, is an execution.
func (s *luaSandbox) classify(v lua.LValue) outcome {
	switch val := v.(type) {
	case *lua.LFunction:
		return outcome{name: execution.DefaultName, stop: s.stopper(val)}
	case *lua.LTable:
		stop, ok := val.RawGetString("stop").(*lua.LFunction)
		if !ok {
			return outcome{}
		}
		name, ok := val.RawGetString("executionName").(lua.LString)
		if !ok {
			return outcome{}
		}
		return outcome{name: string(name), stop: s.stopper(stop)}
	}
	return outcome{}
}

func (s *luaSandbox) stopper(fn *lua.LFunction) func() {
	return func() {
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
			s.inv.logger.Warn("execution stop failed", "err", err)
		}
	}
}

func luaArgs(L *lua.LState) string {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.Get(i).String()
	}
	return strings.Join(parts, " ")
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, lua.LString(vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to plain Go values. Tables with only a
// 1..n sequence become slices, anything else a string-keyed map.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		n := val.MaxN()
		count := 0
		val.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && n == count {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any, count)
		val.ForEach(func(k, vv lua.LValue) {
			out[k.String()] = luaToGo(vv)
		})
		return out
	default:
		if v == lua.LNil {
			return nil
		}
		return v.String()
	}
}
