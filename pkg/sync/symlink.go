package sync

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// syncSymlink recreates a source symlink at the destination, replacing
// whatever is there when the target differs.
func (s *Syncer) syncSymlink(srcSt *unix.Stat_t, srcPath, dstPath, relPath string) {
	var dstSt unix.Stat_t
	err := unix.Lstat(dstPath, &dstSt)
	dstExists := err == nil
	if err != nil && err != unix.ENOENT {
		s.reportError(&os.PathError{Op: "lstat", Path: dstPath, Err: err})
		return
	}

	srcTarget, err := os.Readlink(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Source was removed; mirror the removal.
			if dstExists {
				if err := os.Remove(dstPath); err != nil {
					s.reportError(err)
				}
			}
		} else {
			s.reportError(err)
		}
		return
	}

	if dstExists && dstSt.Mode&unix.S_IFMT != unix.S_IFLNK {
		s.deleteTree(dstPath, &dstSt)
		dstExists = false
	}

	if dstExists {
		dstTarget, err := os.Readlink(dstPath)
		if err != nil {
			if !os.IsNotExist(err) {
				if err := os.Remove(dstPath); err != nil && !os.IsNotExist(err) {
					s.reportError(err)
					return
				}
			}
			dstExists = false
		} else if dstTarget != srcTarget {
			if err := os.Remove(dstPath); err != nil {
				s.reportError(err)
				return
			}
			dstExists = false
		}
	}

	if !dstExists {
		if s.opts.Verbose > 0 {
			fmt.Fprintf(s.opts.Output, "%s\n", relPath)
		}
		if err := os.Symlink(srcTarget, dstPath); err != nil {
			s.reportError(err)
			return
		}
	}

	if s.opts.PreserveOwnership {
		if s.chownNeeded(srcSt, &dstSt, dstExists) {
			if err := os.Lchown(dstPath, s.chownUID(srcSt), int(srcSt.Gid)); err != nil {
				s.reportError(err)
			}
		}
	}
}
