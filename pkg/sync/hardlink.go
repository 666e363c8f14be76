package sync

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// hardlinkTracker maps source inodes that have already been synced to the
// destination path holding their content, so later sightings link instead
// of copying.
//
// The mutex stays held from a missed lookup until the corresponding
// record call: multi-link inodes are synced one at a time, otherwise two
// workers could copy the same inode twice and never link them together.
type hardlinkTracker struct {
	mu      sync.Mutex
	entries map[inodeKey]*hardlinkEntry
}

type inodeKey struct {
	dev uint64
	ino uint64
}

type hardlinkEntry struct {
	dstDev  uint64
	dstIno  uint64
	dstPath string
}

func newHardlinkTracker() *hardlinkTracker {
	return &hardlinkTracker{entries: make(map[inodeKey]*hardlinkEntry)}
}

// syncHardlink handles a multi-link source file. It reports true when the
// file was fully handled by linking to an already-synced destination (or
// the attempt failed and was logged). A false return means this is the
// first sighting of the inode: the caller must sync the file normally and
// then call record, which releases the lock taken here.
func (s *Syncer) syncHardlink(srcPath, dstPath, relPath string, st *unix.Stat_t) bool {
	s.hardlinks.mu.Lock()

	key := inodeKey{dev: st.Dev, ino: st.Ino}
	e, ok := s.hardlinks.entries[key]
	if !ok {
		// Lock intentionally kept; record releases it.
		return false
	}
	defer s.hardlinks.mu.Unlock()

	// The inode is already synced; just link to it.
	var dstSt unix.Stat_t
	err := unix.Lstat(dstPath, &dstSt)
	if err == nil {
		if e.dstDev == dstSt.Dev && e.dstIno == dstSt.Ino {
			return true // link already present
		}
		// Another file is in the way.
		s.deleteTree(dstPath, &dstSt)
	} else if err != unix.ENOENT {
		s.reportError(&os.PathError{Op: "lstat", Path: dstPath, Err: err})
		return true
	}

	if s.opts.Verbose > 0 {
		fmt.Fprintf(s.opts.Output, "%s\n", relPath)
	}
	if err := os.Link(e.dstPath, dstPath); err != nil {
		s.reportError(err)
	}
	return true
}

// record remembers where a first-sighted inode landed and releases the
// lock taken by syncHardlink.
func (h *hardlinkTracker) record(s *Syncer, st *unix.Stat_t, dstPath string) {
	defer h.mu.Unlock()

	var dstSt unix.Stat_t
	if err := unix.Lstat(dstPath, &dstSt); err != nil {
		s.reportError(&os.PathError{Op: "lstat", Path: dstPath, Err: err})
		return
	}
	h.entries[inodeKey{dev: st.Dev, ino: st.Ino}] = &hardlinkEntry{
		dstDev:  dstSt.Dev,
		dstIno:  dstSt.Ino,
		dstPath: dstPath,
	}
}
