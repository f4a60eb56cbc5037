package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"scriptroom/internal/execution"
)

// jsSandbox runs a body as an async function on a goja runtime.
type jsSandbox struct {
	inv *invocation
	vm  *goja.Runtime
}

func newJSSandbox(inv *invocation) *jsSandbox {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	inv.loop.onClose(func() { vm.Interrupt("interpreter closed") })
	return &jsSandbox{inv: inv, vm: vm}
}

// wrapJS turns a body into an async function expression whose parameters are
// the positional bindings.
func wrapJS(names []string, code string) string {
	return fmt.Sprintf("(async function(%s) {\n%s\n})", strings.Join(names, ", "), code)
}

func compileJS(name string, names []string, code string) error {
	if _, err := goja.Compile(name, wrapJS(names, code), false); err != nil {
		return fmt.Errorf("javascript syntax error: %w", err)
	}
	return nil
}

func (s *jsSandbox) start(settle func(outcome)) {
	defer func() {
		if r := recover(); r != nil {
			settle(outcome{err: fmt.Errorf("javascript panic: %v", r)})
		}
	}()

	inv := s.inv
	prog, err := goja.Compile(inv.script.Name, wrapJS(inv.bindingNames(), inv.script.Code), false)
	if err != nil {
		settle(outcome{err: fmt.Errorf("javascript syntax error: %w", err)})
		return
	}
	fnVal, err := s.vm.RunProgram(prog)
	if err != nil {
		settle(outcome{err: fmt.Errorf("javascript load: %w", err)})
		return
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		settle(outcome{err: fmt.Errorf("javascript load: body is not callable")})
		return
	}

	promise, err := fn(goja.Undefined(), s.args()...)
	if err != nil {
		settle(outcome{err: err})
		return
	}

	// Settlement arrives through then(); the callbacks run as promise jobs,
	// which goja drains before returning control to Go.
	var once bool
	onOK := s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if !once {
			once = true
			settle(s.classify(call.Argument(0)))
		}
		return goja.Undefined()
	})
	onErr := s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if !once {
			once = true
			settle(outcome{err: jsError(call.Argument(0))})
		}
		return goja.Undefined()
	})

	obj := promise.ToObject(s.vm)
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		settle(outcome{err: fmt.Errorf("javascript: body did not return a promise")})
		return
	}
	if _, err := then(obj, onOK, onErr); err != nil && !once {
		once = true
		settle(outcome{err: err})
	}
}

// args builds the positional arguments: control handle, console, modules,
// then parameter values in declaration order.
func (s *jsSandbox) args() []goja.Value {
	vm := s.vm
	args := []goja.Value{s.controlObject(), s.consoleObject()}
	for _, m := range s.inv.engine.cfg.Capabilities.Modules {
		args = append(args, s.moduleObject(m))
	}
	for _, v := range s.inv.script.ParameterValues() {
		if v == nil {
			args = append(args, goja.Undefined())
			continue
		}
		args = append(args, vm.ToValue(plainValue(v)))
	}
	return args
}

func (s *jsSandbox) controlObject() goja.Value {
	vm := s.vm
	inv := s.inv
	h := vm.NewObject()
	_ = h.Set("id", inv.script.ID)

	_ = h.Set("stopSelf", func(goja.FunctionCall) goja.Value {
		if err := inv.ctl.stopSelf(); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	_ = h.Set("continueExecution", func(call goja.FunctionCall) goja.Value {
		o := vm.NewObject()
		_ = o.Set("executionName", call.Argument(0).String())
		_ = o.Set("stop", call.Argument(1))
		return o
	})

	_ = h.Set("sleep", func(call goja.FunctionCall) goja.Value {
		p, resolve, _ := vm.NewPromise()
		inv.loop.after(millis(call.Argument(0)), func() {
			resolve(goja.Undefined())
		})
		return vm.ToValue(p)
	})

	timer := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			d := millis(call.Argument(0))
			cb, ok := goja.AssertFunction(call.Argument(1))
			if !ok {
				panic(vm.NewTypeError("callback must be a function"))
			}
			run := func() {
				if _, err := cb(goja.Undefined()); err != nil {
					inv.logger.Warn("timer callback failed", "err", err)
				}
			}
			var cancel func()
			if repeat {
				cancel = inv.loop.every(d, run)
			} else {
				cancel = inv.loop.after(d, run)
			}
			return vm.ToValue(func(goja.FunctionCall) goja.Value {
				cancel()
				return goja.Undefined()
			})
		}
	}
	_ = h.Set("every", timer(true))
	_ = h.Set("after", timer(false))
	return h
}

func (s *jsSandbox) consoleObject() goja.Value {
	c := s.vm.NewObject()
	logger := s.inv.logger
	format := func(call goja.FunctionCall) string {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		return strings.Join(parts, " ")
	}
	_ = c.Set("log", func(call goja.FunctionCall) goja.Value {
		logger.Info("script log", "msg", format(call))
		return goja.Undefined()
	})
	_ = c.Set("info", func(call goja.FunctionCall) goja.Value {
		logger.Info("script log", "msg", format(call))
		return goja.Undefined()
	})
	_ = c.Set("debug", func(call goja.FunctionCall) goja.Value {
		logger.Debug("script log", "msg", format(call))
		return goja.Undefined()
	})
	_ = c.Set("warn", func(call goja.FunctionCall) goja.Value {
		logger.Warn("script log", "msg", format(call))
		return goja.Undefined()
	})
	_ = c.Set("error", func(call goja.FunctionCall) goja.Value {
		logger.Error("script log", "msg", format(call))
		return goja.Undefined()
	})
	return c
}

func (s *jsSandbox) moduleObject(m Module) goja.Value {
	vm := s.vm
	obj := vm.NewObject()
	for name, fn := range m.Funcs {
		fn := fn
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			res, err := s.inv.call(fn, args)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			if res == nil {
				return goja.Undefined()
			}
			return vm.ToValue(res)
		})
	}
	return obj
}

// classify turns the resolved value into an outcome: an object carrying a
// stop function and an executionName string, or a bare function, becomes an
// execution; anything else is a one-shot.
func (s *jsSandbox) classify(v goja.Value) outcome {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return outcome{}
	}
	if fn, ok := goja.AssertFunction(v); ok {
		return outcome{name: execution.DefaultName, stop: s.stopper(fn)}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return outcome{}
	}
	stopFn, ok := goja.AssertFunction(obj.Get("stop"))
	if !ok {
		return outcome{}
	}
	nameVal := obj.Get("executionName")
	if nameVal == nil {
		return outcome{}
	}
	name, ok := nameVal.Export().(string)
	if !ok {
		return outcome{}
	}
	return outcome{name: name, stop: s.stopper(stopFn)}
}

func (s *jsSandbox) stopper(fn goja.Callable) func() {
	return func() {
		if _, err := fn(goja.Undefined()); err != nil {
			s.inv.logger.Warn("execution stop failed", "err", err)
		}
	}
}

func jsError(reason goja.Value) error {
	if reason == nil || goja.IsUndefined(reason) {
		return fmt.Errorf("script rejected")
	}
	if obj, ok := reason.(*goja.Object); ok {
		if ge, ok := obj.Export().(error); ok {
			return ge
		}
	}
	return fmt.Errorf("%s", reason.String())
}

func millis(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) {
		return 0
	}
	return millisFloat(v.ToFloat())
}
