package runtime

import (
	"fmt"
	"sort"
	"strings"

	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/value"
)

// BindExternal attaches a host function to an EXTERNAL declaration.
func (e *Engine) BindExternal(name string, fn ExternalFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrBusy
	}
	if _, ok := e.story.External(name); !ok {
		return fmt.Errorf("runtime: story declares no EXTERNAL %q", name)
	}
	e.externals[name] = fn
	return nil
}

// ValidateExternals reports every external that is neither bound nor backed
// by a fallback function in the story.
func (e *Engine) ValidateExternals() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var missing []string
	for _, x := range e.story.Externals {
		if _, bound := e.externals[x.Name]; !bound && x.Fallback == "" {
			missing = append(missing, x.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return rtErr(ErrExternal, "unbound external function(s) without fallback: %s", strings.Join(missing, ", "))
}

func (e *Engine) callExternal(in *graph.Instruction) error {
	argc := int(in.Int)
	if fn, ok := e.externals[in.Name]; ok {
		args, err := e.popArgs(argc)
		if err != nil {
			return err
		}
		v, err := e.callUnlocked(fn, args)
		if err != nil {
			return &RuntimeError{Code: ErrExternal, Msg: "external " + in.Name, Err: err}
		}
		e.st.push(v)
		return nil
	}
	if in.Target == "" {
		return rtErr(ErrExternal, "external %q is not bound and has no fallback", in.Name)
	}
	c, err := e.lookup(in.Target)
	if err != nil {
		return err
	}
	if !e.fallbacks[in.Name] {
		e.fallbacks[in.Name] = true
		e.warnf("external %q is not bound; using the story fallback", in.Name)
	}
	if err := e.pushFrame(frameFunction, argc); err != nil {
		return err
	}
	e.divert(c)
	return nil
}

// callUnlocked runs a host function with the engine lock released so it can
// read the engine. Calls that would move the story fail with ErrBusy until it
// returns.
func (e *Engine) callUnlocked(fn ExternalFunc, args []value.Value) (value.Value, error) {
	e.busy = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.busy = false
	}()
	return fn(args)
}
