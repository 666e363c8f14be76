package sync

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ScottDuckworth/mtpt/pkg/traverse"
)

// Syncer mirrors one source tree onto a destination. A Syncer may be
// reused for repeated runs over the same pair of roots (watch mode does
// exactly that).
type Syncer struct {
	opts      Options
	euid      int
	hardlinks *hardlinkTracker

	srcRoot string
	dstRoot string
	rootDev uint64 // device of the source root, for OneFileSystem

	errored atomic.Bool
}

// dirState is the continuation carried from DirEnter to DirExit for each
// source directory.
type dirState struct {
	dstExists bool
	dstSt     unix.Stat_t
	srcSt     unix.Stat_t
}

// New creates a Syncer.
func New(opts Options) *Syncer {
	opts.normalize()
	s := &Syncer{
		opts: opts,
		euid: os.Geteuid(),
	}
	if opts.PreserveHardlinks {
		s.hardlinks = newHardlinkTracker()
	}
	return s
}

// Errored reports whether any per-entry failure was logged during a run.
func (s *Syncer) Errored() bool { return s.errored.Load() }

// Run mirrors src onto dst, blocking until the tree has been processed.
// The returned error is non-nil only when the walk could not start;
// per-entry failures are logged, flagged via Errored, and do not stop the
// run.
func (s *Syncer) Run(src, dst string) error {
	s.srcRoot = src
	s.dstRoot = dst

	var st unix.Stat_t
	if err := unix.Lstat(src, &st); err != nil {
		return &os.PathError{Op: "lstat", Path: src, Err: err}
	}
	s.rootDev = st.Dev

	cfg := traverse.Config{
		Threads:   s.opts.Threads,
		FileTasks: true,
		Sort:      true,
	}
	v := traverse.Visitor[struct{}]{
		DirEnter: s.dirEnter,
		DirExit:  s.dirExit,
		File:     s.file,
		Error:    s.walkError,
	}
	_, err := traverse.Walk(cfg, src, v)
	return err
}

// mapPath translates a source path into the matching destination path and
// the root-relative path used for exclude matching and verbose output.
func (s *Syncer) mapPath(srcPath string) (dstPath, relPath string) {
	tail := srcPath[len(s.srcRoot):]
	if tail == "" {
		return s.dstRoot, "."
	}
	return s.dstRoot + tail, tail[1:]
}

func (s *Syncer) dirEnter(path string, st *unix.Stat_t, _ traverse.Continuation) (traverse.Continuation, bool) {
	if s.opts.OneFileSystem && st.Dev != s.rootDev {
		return nil, false
	}

	dstPath, relPath := s.mapPath(path)
	if s.opts.Exclude.Match(relPath, true) {
		return nil, false
	}
	if s.opts.Verbose > 1 {
		fmt.Fprintf(s.opts.Output, ">>> %s/\n", path)
	}

	state := &dirState{srcSt: *st}
	err := unix.Lstat(dstPath, &state.dstSt)
	state.dstExists = err == nil
	if err != nil && err != unix.ENOENT {
		s.reportError(&os.PathError{Op: "lstat", Path: dstPath, Err: err})
		return nil, false
	}

	if s.opts.ExcludeDelete.Match(relPath, true) {
		if state.dstExists {
			s.deleteTree(dstPath, &state.dstSt)
		}
		return nil, false
	}

	// A destination non-directory is in the way.
	if state.dstExists && state.dstSt.Mode&unix.S_IFMT != unix.S_IFDIR {
		if err := os.Remove(dstPath); err != nil {
			s.reportError(err)
			return nil, false
		}
		state.dstExists = false
	}

	if !state.dstExists {
		if s.opts.Verbose > 0 {
			fmt.Fprintf(s.opts.Output, "%s/\n", relPath)
		}
		if err := os.Mkdir(dstPath, 0o700); err != nil && !os.IsExist(err) {
			s.reportError(err)
			return nil, false
		}
	}

	return state, true
}

func (s *Syncer) dirExit(path string, st *unix.Stat_t, cont traverse.Continuation, entries []traverse.Entry[struct{}]) *struct{} {
	state := cont.(*dirState)
	dstPath, _ := s.mapPath(path)

	if s.opts.Delete && state.dstExists && !s.sameMtime(&state.srcSt, &state.dstSt) {
		s.deleteExtraneous(dstPath, entries)
	}

	if s.opts.Verbose > 1 {
		fmt.Fprintf(s.opts.Output, "<<< %s/\n", path)
	}

	if s.opts.PreserveMode {
		if !state.dstExists || state.srcSt.Mode != state.dstSt.Mode {
			if err := chmod(dstPath, state.srcSt.Mode); err != nil {
				s.reportError(err)
				return nil
			}
		}
	}
	if s.opts.PreserveOwnership {
		if s.chownNeeded(&state.srcSt, &state.dstSt, state.dstExists) {
			if err := os.Chown(dstPath, s.chownUID(&state.srcSt), int(state.srcSt.Gid)); err != nil {
				s.reportError(err)
				return nil
			}
		}
	}
	if s.opts.PreserveMtime {
		if err := setTimes(dstPath, st); err != nil {
			s.reportError(err)
		}
	}
	return nil
}

// deleteExtraneous removes destination entries whose names are absent
// from the (sorted) source entries.
func (s *Syncer) deleteExtraneous(dstPath string, entries []traverse.Entry[struct{}]) {
	names, err := readDirNames(dstPath)
	if err != nil {
		s.reportError(err)
		return
	}
	for _, name := range names {
		i := sort.Search(len(entries), func(i int) bool { return entries[i].Name >= name })
		if i < len(entries) && entries[i].Name == name {
			continue
		}
		p := dstPath + "/" + name
		var st unix.Stat_t
		if err := unix.Lstat(p, &st); err != nil {
			if err != unix.ENOENT {
				s.reportError(&os.PathError{Op: "lstat", Path: p, Err: err})
			}
			continue
		}
		if s.opts.Verbose > 0 {
			fmt.Fprintf(s.opts.Output, "deleting %s\n", p)
		}
		s.deleteTree(p, &st)
	}
}

func (s *Syncer) file(path string, st *unix.Stat_t, _ traverse.Continuation) *struct{} {
	dstPath, relPath := s.mapPath(path)
	if relPath == "." {
		// Non-directory root: exclude patterns match the basename.
		relPath = basename(path)
	}

	if s.opts.Exclude.Match(relPath, false) {
		return nil
	}

	if s.opts.ExcludeDelete.Match(relPath, false) {
		var dstSt unix.Stat_t
		if err := unix.Lstat(dstPath, &dstSt); err == nil {
			s.deleteTree(dstPath, &dstSt)
		} else if err != unix.ENOENT {
			s.reportError(&os.PathError{Op: "lstat", Path: dstPath, Err: err})
		}
		return nil
	}

	if s.opts.PreserveHardlinks && st.Nlink > 1 {
		if s.syncHardlink(path, dstPath, relPath, st) {
			return nil
		}
		// First sighting of the inode: fall through to a normal sync,
		// then record the destination. The tracker stays locked so a
		// sibling link cannot race the copy.
		defer s.hardlinks.record(s, st, dstPath)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		s.syncRegular(st, path, dstPath, relPath)
	case unix.S_IFLNK:
		s.syncSymlink(st, path, dstPath, relPath)
	case unix.S_IFIFO:
		s.syncSpecial(st, path, dstPath, relPath, unix.S_IFIFO, false)
	case unix.S_IFBLK:
		s.syncSpecial(st, path, dstPath, relPath, unix.S_IFBLK, true)
	case unix.S_IFCHR:
		s.syncSpecial(st, path, dstPath, relPath, unix.S_IFCHR, true)
	case unix.S_IFSOCK:
		s.syncSpecial(st, path, dstPath, relPath, unix.S_IFSOCK, false)
	default:
		s.opts.Logger.Errorf("file type not supported: %s", relPath)
		s.errored.Store(true)
	}

	if s.opts.Progress != nil {
		s.opts.Progress.Add(1)
	}
	return nil
}

func (s *Syncer) walkError(path string, _ *unix.Stat_t, _ traverse.Continuation, err error) *struct{} {
	s.reportError(err)
	return nil
}

// reportError logs a per-entry failure and marks the run as errored.
// Errors from the os and unix wrappers already carry their path.
func (s *Syncer) reportError(err error) {
	s.opts.Logger.Errorf("%v", err)
	s.errored.Store(true)
}

// deleteTree removes a destination entry of any type.
func (s *Syncer) deleteTree(path string, st *unix.Stat_t) {
	var err error
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		s.reportError(err)
	}
}

// chownNeeded mirrors the ownership comparison: uid only matters when
// running as root, gid always.
func (s *Syncer) chownNeeded(src, dst *unix.Stat_t, dstExists bool) bool {
	if !dstExists {
		return true
	}
	if s.euid == 0 && src.Uid != dst.Uid {
		return true
	}
	return src.Gid != dst.Gid
}

// chownUID returns the uid to set: the source's for root, unchanged (-1)
// otherwise.
func (s *Syncer) chownUID(src *unix.Stat_t) int {
	if s.euid == 0 {
		return int(src.Uid)
	}
	return -1
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func readDirNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}
