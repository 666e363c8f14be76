package sync

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// syncSpecial mirrors a FIFO, device node, or socket. useDev carries the
// device number across for block and character devices.
func (s *Syncer) syncSpecial(srcSt *unix.Stat_t, srcPath, dstPath, relPath string, format uint32, useDev bool) {
	var dstSt unix.Stat_t
	err := unix.Lstat(dstPath, &dstSt)
	dstExists := err == nil
	if err != nil && err != unix.ENOENT {
		s.reportError(&os.PathError{Op: "lstat", Path: dstPath, Err: err})
		return
	}

	if dstExists && dstSt.Mode&unix.S_IFMT != format {
		s.deleteTree(dstPath, &dstSt)
		dstExists = false
	}

	if useDev && dstExists && srcSt.Rdev != dstSt.Rdev {
		if err := os.Remove(dstPath); err != nil {
			s.reportError(err)
			return
		}
		dstExists = false
	}

	if !dstExists {
		if s.opts.Verbose > 0 {
			fmt.Fprintf(s.opts.Output, "%s\n", relPath)
		}
		dev := 0
		if useDev {
			dev = int(srcSt.Rdev)
		}
		if err := unix.Mknod(dstPath, srcSt.Mode, dev); err != nil {
			s.reportError(&os.PathError{Op: "mknod", Path: dstPath, Err: err})
			return
		}
	} else if s.opts.PreserveMode && srcSt.Mode != dstSt.Mode {
		if err := chmod(dstPath, srcSt.Mode); err != nil {
			s.reportError(err)
			return
		}
	}

	if s.opts.PreserveOwnership {
		if s.chownNeeded(srcSt, &dstSt, dstExists) {
			if err := os.Chown(dstPath, s.chownUID(srcSt), int(srcSt.Gid)); err != nil {
				s.reportError(err)
			}
		}
	}
}
