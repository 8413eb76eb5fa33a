package runtime

import (
	"fmt"

	"inkforge.dev/internal/persistence/snapshot"
	"inkforge.dev/internal/story/value"
)

func copyValues(m map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func threadV1(t *thread) snapshot.ThreadV1 {
	out := snapshot.ThreadV1{ID: t.id}
	for _, f := range t.frames {
		fv := snapshot.FrameV1{
			Kind:       frameKindNames[f.kind],
			Temps:      copyValues(f.temps),
			EvalHeight: f.evalHeight,
		}
		if f.ptr.null() {
			fv.Ptr = snapshot.PointerV1{Null: true}
		} else {
			fv.Ptr = snapshot.PointerV1{Path: f.ptr.c.Path(), Index: f.ptr.i}
		}
		out.Frames = append(out.Frames, fv)
	}
	return out
}

// Snapshot captures the complete engine state. Restoring it into an engine
// on the same graph continues exactly where this one stands.
func (e *Engine) Snapshot() *snapshot.SnapshotV1 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.st
	snap := &snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:     snapshot.Version,
			StoryDigest: e.story.Digest(),
			Turn:        st.turn,
		},
		Status:      statusNames[st.status],
		Globals:     copyValues(st.globals),
		VisitCounts: copyInts(st.visits),
		TurnIndices: copyInts(st.turnIdx),
		EvalStack:   append([]value.Value(nil), st.eval...),
		Output: snapshot.OutputV1{
			Line:           st.out.line,
			Tags:           append([]string(nil), st.out.tags...),
			PendingNewline: st.out.pending,
			Captures:       append([]string(nil), st.out.captures...),
		},
		Seed:         st.seed,
		PrevRandom:   st.prevRandom,
		NextThreadID: st.nextThread,
	}
	for _, t := range st.threads {
		snap.Threads = append(snap.Threads, threadV1(t))
	}
	for _, c := range st.choices {
		snap.Choices = append(snap.Choices, snapshot.ChoiceV1{
			Text:       c.text,
			Target:     c.target.Path(),
			SourcePath: c.source,
			OnceOnly:   c.onceOnly,
			Fallback:   c.fallback,
			Thread:     threadV1(c.thread),
			Tags:       append([]string(nil), c.tags...),
		})
	}
	return snap
}

func incompatible(format string, args ...any) error {
	return &snapshot.IncompatibleSnapshotError{Reason: fmt.Sprintf(format, args...)}
}

func (e *Engine) restoreThread(tv snapshot.ThreadV1) (*thread, error) {
	if len(tv.Frames) == 0 {
		return nil, incompatible("thread %d has no frames", tv.ID)
	}
	t := &thread{id: tv.ID}
	for _, fv := range tv.Frames {
		f := &frame{temps: copyValues(fv.Temps), evalHeight: fv.EvalHeight}
		kindOK := false
		for k, name := range frameKindNames {
			if name == fv.Kind {
				f.kind, kindOK = k, true
			}
		}
		if !kindOK {
			return nil, incompatible("unknown frame kind %q", fv.Kind)
		}
		if !fv.Ptr.Null {
			c, ok := e.story.Lookup(fv.Ptr.Path)
			if !ok {
				return nil, incompatible("no container at %q", fv.Ptr.Path)
			}
			if fv.Ptr.Index < 0 || fv.Ptr.Index > len(c.Content) {
				return nil, incompatible("index %d out of range in %q", fv.Ptr.Index, fv.Ptr.Path)
			}
			f.ptr = pointer{c: c, i: fv.Ptr.Index}
		}
		t.frames = append(t.frames, f)
	}
	return t, nil
}

// Restore replaces the engine state with snap. Nothing changes unless the
// whole snapshot applies; a failed engine is usable again afterwards.
func (e *Engine) Restore(snap *snapshot.SnapshotV1) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrBusy
	}
	if snap == nil {
		return incompatible("nil snapshot")
	}
	if snap.Header.Version != snapshot.Version {
		return incompatible("version %d, want %d", snap.Header.Version, snapshot.Version)
	}
	if snap.Header.StoryDigest != e.story.Digest() {
		return incompatible("snapshot belongs to another story graph")
	}

	st := &state{
		globals:    copyValues(snap.Globals),
		visits:     copyInts(snap.VisitCounts),
		turnIdx:    copyInts(snap.TurnIndices),
		turn:       snap.Header.Turn,
		nextThread: snap.NextThreadID,
		eval:       append([]value.Value(nil), snap.EvalStack...),
		out: output{
			line:     snap.Output.Line,
			tags:     append([]string(nil), snap.Output.Tags...),
			pending:  snap.Output.PendingNewline,
			captures: append([]string(nil), snap.Output.Captures...),
		},
		seed:       snap.Seed,
		prevRandom: snap.PrevRandom,
	}
	statusOK := false
	for s, name := range statusNames {
		if name == snap.Status {
			st.status, statusOK = s, true
		}
	}
	if !statusOK {
		return incompatible("unknown status %q", snap.Status)
	}
	for _, g := range e.story.Globals {
		if _, ok := st.globals[g.Name]; !ok {
			return incompatible("global %q missing", g.Name)
		}
	}
	if len(snap.Threads) == 0 {
		return incompatible("no threads")
	}
	for _, tv := range snap.Threads {
		t, err := e.restoreThread(tv)
		if err != nil {
			return err
		}
		st.threads = append(st.threads, t)
	}
	for _, cv := range snap.Choices {
		target, ok := e.story.Lookup(cv.Target)
		if !ok {
			return incompatible("choice target %q missing", cv.Target)
		}
		t, err := e.restoreThread(cv.Thread)
		if err != nil {
			return err
		}
		st.choices = append(st.choices, &pendingChoice{
			text:     cv.Text,
			target:   target,
			source:   cv.SourcePath,
			onceOnly: cv.OnceOnly,
			fallback: cv.Fallback,
			thread:   t,
			tags:     append([]string(nil), cv.Tags...),
		})
	}

	e.st = st
	e.err = nil
	return nil
}
