// Package scripting implements EXTERNAL story functions in JavaScript. A
// script defines plain top-level functions; each one whose name matches an
// EXTERNAL declaration is bound to the engine.
package scripting

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"inkforge.dev/internal/story/runtime"
	"inkforge.dev/internal/story/value"
)

const DefaultTimeout = 2 * time.Second

var ErrTimeout = errors.New("scripting: timed out")

// Host owns one JavaScript VM. A VM is not safe for concurrent use, so
// calls are serialized.
type Host struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	name    string
	timeout time.Duration
}

// Load runs the script's top level. logger receives print() output.
func Load(src, name string, timeout time.Duration, logger *log.Logger) (*Host, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	h := &Host{vm: goja.New(), name: name, timeout: timeout}
	_ = h.vm.Set("print", func(call goja.FunctionCall) goja.Value {
		if logger != nil {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			logger.Printf("%s: %s", name, strings.Join(parts, " "))
		}
		return goja.Undefined()
	})
	if err := h.guard(func() error {
		_, err := h.vm.RunScript(name, src)
		return err
	}); err != nil {
		return nil, fmt.Errorf("scripting: run %s: %w", name, err)
	}
	return h, nil
}

// Bind attaches every script function named after one of the story's
// externals and returns the bound names in declaration order.
func (h *Host) Bind(eng *runtime.Engine) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var bound []string
	for _, x := range eng.Story().Externals {
		fn, ok := goja.AssertFunction(h.vm.Get(x.Name))
		if !ok {
			continue
		}
		name := x.Name
		if err := eng.BindExternal(name, func(args []value.Value) (value.Value, error) {
			return h.call(name, fn, args)
		}); err != nil {
			return bound, err
		}
		bound = append(bound, name)
	}
	return bound, nil
}

func (h *Host) call(name string, fn goja.Callable, args []value.Value) (value.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	in := make([]goja.Value, len(args))
	for i, a := range args {
		in[i] = h.toJS(a)
	}
	var out goja.Value
	err := h.guard(func() error {
		var err error
		out, err = fn(goja.Undefined(), in...)
		return err
	})
	if err != nil {
		return value.Void, fmt.Errorf("%s: %w", name, err)
	}
	return fromJS(out)
}

// guard runs fn with the VM interrupted after the host timeout.
func (h *Host) guard(fn func() error) error {
	t := time.AfterFunc(h.timeout, func() { h.vm.Interrupt(ErrTimeout) })
	defer func() {
		t.Stop()
		h.vm.ClearInterrupt()
	}()
	err := fn()
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return ErrTimeout
	}
	return err
}

func (h *Host) toJS(v value.Value) goja.Value {
	switch v.Kind() {
	case value.KindInt:
		n, _ := v.AsInt()
		return h.vm.ToValue(n)
	case value.KindFloat:
		f, _ := v.AsFloat()
		return h.vm.ToValue(f)
	case value.KindBool:
		return h.vm.ToValue(v.Truthy())
	case value.KindString:
		return h.vm.ToValue(v.AsString())
	case value.KindVoid:
		return goja.Undefined()
	}
	// Lists and divert targets cross as their printed form.
	return h.vm.ToValue(v.String())
}

func fromJS(v goja.Value) (value.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return value.Void, nil
	}
	switch x := v.Export().(type) {
	case int64:
		return value.Int(x), nil
	case float64:
		return value.Float(x), nil
	case bool:
		return value.Bool(x), nil
	case string:
		return value.String(x), nil
	}
	return value.Void, fmt.Errorf("unsupported return value %s", v.String())
}
