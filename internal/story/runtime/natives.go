package runtime

import (
	"math"
	"math/rand"

	"inkforge.dev/internal/story/graph"
	"inkforge.dev/internal/story/value"
)

func (e *Engine) popArgs(n int) ([]value.Value, error) {
	args := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := e.st.pop()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (e *Engine) native(name string, argc int) error {
	want, ok := graph.Natives[name]
	if !ok {
		return rtErr(ErrUnknownInstruction, "unknown native %q", name)
	}
	if argc != want {
		return rtErr(ErrType, "%s takes %d argument(s), got %d", name, want, argc)
	}
	args, err := e.popArgs(argc)
	if err != nil {
		return err
	}
	v, err := e.callNative(name, args)
	if err != nil {
		return err
	}
	e.st.push(v)
	return nil
}

func argInt(name string, v value.Value) (int64, error) {
	n, ok := v.AsInt()
	if !ok {
		return 0, rtErr(ErrType, "%s wants a number, got %s", name, v.Kind())
	}
	return n, nil
}

func argFloat(name string, v value.Value) (float64, error) {
	f, ok := v.AsFloat()
	if !ok {
		return 0, rtErr(ErrType, "%s wants a number, got %s", name, v.Kind())
	}
	return f, nil
}

func argList(name string, v value.Value) (value.List, error) {
	if v.Kind() != value.KindList {
		return value.List{}, rtErr(ErrType, "%s wants a list, got %s", name, v.Kind())
	}
	return v.AsList(), nil
}

func argTarget(name string, v value.Value) (string, error) {
	p, ok := v.TargetPath()
	if !ok {
		return "", rtErr(ErrType, "%s wants a divert target, got %s", name, v.Kind())
	}
	return p, nil
}

// nextRandom advances the story generator. Each draw is seeded from the
// story seed and the previous draw so a snapshot resumes the same series.
func (e *Engine) nextRandom() int64 {
	r := rand.New(rand.NewSource(e.st.seed + e.st.prevRandom))
	n := r.Int63()
	e.st.prevRandom = n
	return n
}

// randomBetween draws from [lo, hi]. The span is taken in uint64 so that
// ranges wider than MaxInt64 neither wrap nor divide by zero.
func (e *Engine) randomBetween(lo, hi int64) int64 {
	span := uint64(hi) - uint64(lo)
	n := uint64(e.nextRandom())
	if span == math.MaxUint64 {
		// Int63 leaves the top bit empty; a second draw fills it.
		return int64(n<<1 | uint64(e.nextRandom())&1)
	}
	return int64(uint64(lo) + n%(span+1))
}

func (e *Engine) callNative(name string, args []value.Value) (value.Value, error) {
	st := e.st
	switch name {
	case "TURNS":
		return value.Int(int64(st.turn)), nil
	case "TURNS_SINCE":
		p, err := argTarget(name, args[0])
		if err != nil {
			return value.Void, err
		}
		at, seen := st.turnIdx[p]
		if !seen {
			return value.Int(-1), nil
		}
		return value.Int(int64(st.turn - at)), nil
	case "READ_COUNT":
		p, err := argTarget(name, args[0])
		if err != nil {
			return value.Void, err
		}
		return value.Int(int64(st.visits[p])), nil
	case "CHOICE_COUNT":
		return value.Int(int64(len(st.visibleChoices()))), nil
	case "RANDOM":
		lo, err := argInt(name, args[0])
		if err != nil {
			return value.Void, err
		}
		hi, err := argInt(name, args[1])
		if err != nil {
			return value.Void, err
		}
		if hi < lo {
			return value.Void, rtErr(ErrType, "RANDOM(%d, %d): max is below min", lo, hi)
		}
		return value.Int(e.randomBetween(lo, hi)), nil
	case "SEED_RANDOM":
		n, err := argInt(name, args[0])
		if err != nil {
			return value.Void, err
		}
		st.seed, st.prevRandom = n, 0
		return value.Void, nil
	case "INT":
		n, err := argInt(name, args[0])
		return value.Int(n), err
	case "FLOAT":
		f, err := argFloat(name, args[0])
		return value.Float(f), err
	case "FLOOR", "CEILING":
		f, err := argFloat(name, args[0])
		if err != nil {
			return value.Void, err
		}
		if name == "FLOOR" {
			return value.Int(int64(math.Floor(f))), nil
		}
		return value.Int(int64(math.Ceil(f))), nil
	case "POW":
		x, err := argFloat(name, args[0])
		if err != nil {
			return value.Void, err
		}
		y, err := argFloat(name, args[1])
		if err != nil {
			return value.Void, err
		}
		return value.Float(math.Pow(x, y)), nil
	case "MIN", "MAX":
		less, err := value.Binary(value.OpLt, args[0], args[1])
		if err != nil {
			return value.Void, opErr(err)
		}
		if less.Truthy() == (name == "MIN") {
			return args[0], nil
		}
		return args[1], nil
	}
	return e.listNative(name, args)
}

func (e *Engine) listNative(name string, args []value.Value) (value.Value, error) {
	if name == "LIST_ITEM" {
		return e.listItem(args[0].AsString(), args[1])
	}
	l, err := argList(name, args[0])
	if err != nil {
		return value.Void, err
	}
	switch name {
	case "LIST_COUNT":
		return value.Int(int64(l.Count())), nil
	case "LIST_MIN", "LIST_MAX":
		it, ok := l.Min()
		if name == "LIST_MAX" {
			it, ok = l.Max()
		}
		if !ok {
			return value.FromList(value.NewList(l.Origins)), nil
		}
		return value.FromList(value.NewList(l.Origins, it)), nil
	case "LIST_VALUE":
		it, ok := l.Max()
		if !ok {
			return value.Int(0), nil
		}
		return value.Int(int64(it.Value)), nil
	case "LIST_ALL":
		return value.FromList(e.allItems(l)), nil
	case "LIST_INVERT":
		return value.FromList(e.allItems(l).Without(l)), nil
	case "LIST_RANDOM":
		if l.Count() == 0 {
			return value.FromList(l), nil
		}
		it := l.Items[e.nextRandom()%int64(l.Count())]
		return value.FromList(value.NewList(l.Origins, it)), nil
	}
	return value.Void, rtErr(ErrUnknownInstruction, "unknown native %q", name)
}

// allItems is every item of every list definition l draws from.
func (e *Engine) allItems(l value.List) value.List {
	var items []value.ListItem
	for _, origin := range l.Origins {
		if def, ok := e.story.ListDef(origin); ok {
			items = append(items, def.Items...)
		}
	}
	return value.NewList(l.Origins, items...)
}

func (e *Engine) listItem(list string, n value.Value) (value.Value, error) {
	def, ok := e.story.ListDef(list)
	if !ok {
		return value.Void, rtErr(ErrType, "no list named %q", list)
	}
	want, err := argInt("LIST_ITEM", n)
	if err != nil {
		return value.Void, err
	}
	for _, it := range def.Items {
		if int64(it.Value) == want {
			return value.FromList(value.NewList([]string{list}, it)), nil
		}
	}
	return value.FromList(value.NewList([]string{list})), nil
}
