package traverse

import (
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/ScottDuckworth/mtpt/pkg/workers"
)

// child classification after lstat.
const (
	childSkip = iota // lstat failed; entry kept with nil data
	childDir
	childFile
)

type childInfo struct {
	name string
	kind int
	st   unix.Stat_t
}

// lstatFn is swapped out by tests that need to inject stat failures, such
// as a child vanishing between readdir and lstat.
var lstatFn = unix.Lstat

// Pool task entry points. The pool deals in opaque (routine, arg) pairs;
// these recover the concrete task type.

func (w *walker[T]) runDirEnter(arg any) { w.dirEnter(arg.(*dirTask[T])) }
func (w *walker[T]) runDirExit(arg any)  { w.dirExit(arg.(*dirTask[T])) }
func (w *walker[T]) runFile(arg any)     { w.file(arg.(*fileTask[T])) }

// dirEnter is the first phase of a directory task: the DirEnter callback,
// enumeration, per-child lstat, and child task dispatch.
func (w *walker[T]) dirEnter(t *dirTask[T]) {
	var parentCont Continuation
	if t.parent != nil {
		parentCont = t.parent.cont
	}
	if w.v.DirEnter != nil {
		cont, enter := w.v.DirEnter(t.path, &t.st, parentCont)
		t.cont = cont
		if !enter {
			w.finish(t, nil)
			return
		}
	}

	names, err := readNames(t.path)
	if err != nil {
		w.finish(t, w.callError(t.path, &t.st, t.cont, err))
		return
	}
	if w.cfg.Sort {
		sort.Strings(names)
	}

	// lstat every child up front so the entries array is final before
	// any child task can hold a pointer into it. Children that vanished
	// between readdir and lstat are dropped entirely.
	children := make([]childInfo, 0, len(names))
	for _, name := range names {
		path := t.path + "/" + name
		var st unix.Stat_t
		if err := lstatFn(path, &st); err != nil {
			if err == unix.ENOENT {
				continue
			}
			w.callError(path, nil, nil, &os.PathError{Op: "lstat", Path: path, Err: err})
			children = append(children, childInfo{name: name, kind: childSkip})
			continue
		}
		kind := childFile
		if st.Mode&unix.S_IFMT == unix.S_IFDIR {
			kind = childDir
		}
		children = append(children, childInfo{name: name, kind: kind, st: st})
	}

	entries := make([]Entry[T], len(children))
	for i := range children {
		entries[i].Name = children[i].name
	}
	t.entries = entries

	// Spawn children while holding the task mutex so a fast child cannot
	// observe the counter mid-loop and trigger DirExit early. Tasks that
	// would not fit in a bounded queue run inline after the unlock.
	var overflow []func()
	t.mu.Lock()
	for i := range children {
		c := &children[i]
		if c.kind == childSkip {
			continue
		}
		path := t.path + "/" + c.name
		if c.kind == childDir {
			child := &dirTask[T]{
				w:      w,
				phase:  phaseDirEnter,
				parent: t,
				slot:   &entries[i],
				path:   path,
				st:     c.st,
			}
			switch err := w.pool.TrySubmit(w.runDirEnter, child); err {
			case nil:
				t.children++
			case workers.ErrQueueFull:
				t.children++
				overflow = append(overflow, func() { w.dirEnter(child) })
			default:
				w.callError(path, &c.st, nil, err)
			}
		} else if w.cfg.FileTasks {
			child := &fileTask[T]{
				w:      w,
				parent: t,
				slot:   &entries[i],
				path:   path,
				st:     c.st,
			}
			switch err := w.pool.TrySubmit(w.runFile, child); err {
			case nil:
				t.children++
			case workers.ErrQueueFull:
				t.children++
				overflow = append(overflow, func() { w.file(child) })
			default:
				w.callError(path, &c.st, nil, err)
			}
		} else if w.v.File != nil {
			entries[i].Data = w.v.File(path, &c.st, t.cont)
		}
	}
	noChildren := t.children == 0
	t.mu.Unlock()

	for _, run := range overflow {
		run()
	}
	if noChildren {
		// No round trip through the queue for a leaf directory.
		w.dirExit(t)
	}
}

// dirExit is the final phase of a directory task. It runs strictly after
// every child of the directory has completed.
func (w *walker[T]) dirExit(t *dirTask[T]) {
	// Barrier: the spawn loop and the final childFinished critical
	// section must have released the mutex before entries and children
	// are trusted.
	t.mu.Lock()
	t.mu.Unlock()

	var data *T
	if w.v.DirExit != nil {
		data = w.v.DirExit(t.path, &t.st, t.cont, t.entries)
	}
	w.finish(t, data)
}

// file visits one non-directory dispatched as its own task.
func (w *walker[T]) file(t *fileTask[T]) {
	if w.v.File != nil {
		t.slot.Data = w.v.File(t.path, &t.st, t.parent.cont)
	}
	// Non-directories are never the root task, so parent is non-nil.
	w.childFinished(t.parent)
}

// finish publishes a completed directory task's result and notifies its
// parent, or releases Walk when the task is the root.
func (w *walker[T]) finish(t *dirTask[T], data *T) {
	if t.slot != nil {
		t.slot.Data = data
	} else {
		w.rootData = data
	}
	if t.parent != nil {
		w.childFinished(t.parent)
	} else {
		close(w.done)
	}
}

// childFinished records one completed child of t. The last child promotes
// t to the DirExit phase and schedules it; if the queue cannot take it,
// the handler runs inline on this worker, so a saturated queue degrades
// to sequential completion instead of deadlock.
func (w *walker[T]) childFinished(t *dirTask[T]) {
	inline := false
	t.mu.Lock()
	t.children--
	if t.children == 0 {
		t.phase = phaseDirExit
		if err := w.pool.TrySubmit(w.runDirExit, t); err != nil {
			inline = true
		}
	}
	t.mu.Unlock()
	if inline {
		w.dirExit(t)
	}
}

// callError routes a failure to the Error callback if one is set.
func (w *walker[T]) callError(path string, st *unix.Stat_t, cont Continuation, err error) *T {
	if w.v.Error == nil {
		return nil
	}
	return w.v.Error(path, st, cont, err)
}

// readNames enumerates a directory, excluding "." and "..". Any error
// after the open, including one mid-stream, is reported as a directory
// read failure.
func readNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, &os.PathError{Op: "readdirent", Path: path, Err: err}
	}
	return names, nil
}
