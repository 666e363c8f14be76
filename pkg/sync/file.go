package sync

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const copyBufferSize = 1 << 20 // 1 MiB

// Copy buffers are reused across file tasks; each worker holds at most
// one at a time.
var copyBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// syncRegular brings one destination regular file up to date with its
// source: copy on size/mtime (or digest) mismatch, then repair preserved
// metadata.
func (s *Syncer) syncRegular(srcSt *unix.Stat_t, srcPath, dstPath, relPath string) {
	var dstSt unix.Stat_t
	err := unix.Lstat(dstPath, &dstSt)
	dstExists := err == nil
	if err != nil && err != unix.ENOENT {
		s.reportError(&os.PathError{Op: "lstat", Path: dstPath, Err: err})
		return
	}

	// A destination that is not a regular file is in the way.
	if dstExists && dstSt.Mode&unix.S_IFMT != unix.S_IFREG {
		s.deleteTree(dstPath, &dstSt)
		dstExists = false
	}

	if dstExists && srcSt.Size == dstSt.Size && s.contentMatches(srcSt, &dstSt, srcPath, dstPath) {
		// Same content; only metadata may need repair.
		if s.opts.PreserveMode && srcSt.Mode != dstSt.Mode {
			if err := chmod(dstPath, srcSt.Mode); err != nil {
				s.reportError(err)
				return
			}
		}
		if s.opts.PreserveOwnership && s.chownNeeded(srcSt, &dstSt, true) {
			if err := os.Chown(dstPath, s.chownUID(srcSt), int(srcSt.Gid)); err != nil {
				s.reportError(err)
			}
		}
		return
	}

	src, err := os.Open(srcPath)
	if err != nil {
		// The source vanishing mid-run is filesystem churn, not an error.
		if !os.IsNotExist(err) {
			s.reportError(err)
		}
		return
	}
	defer src.Close()

	if s.opts.Verbose > 0 {
		fmt.Fprintf(s.opts.Output, "%s\n", relPath)
	}

	if dstExists && s.euid != 0 {
		if !s.ensureWritable(dstPath, &dstSt, &dstExists) {
			return
		}
	}

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		s.reportError(err)
		return
	}
	defer dst.Close()

	bufp := copyBuffers.Get().(*[]byte)
	length, err := io.CopyBuffer(dst, src, *bufp)
	copyBuffers.Put(bufp)
	if err != nil {
		s.reportError(err)
		return
	}
	if err := dst.Truncate(length); err != nil {
		s.reportError(err)
		return
	}

	if s.opts.PreserveMode {
		if !dstExists || srcSt.Mode != dstSt.Mode {
			if err := unix.Fchmod(int(dst.Fd()), srcSt.Mode&0o7777); err != nil {
				s.reportError(&os.PathError{Op: "fchmod", Path: dstPath, Err: err})
				return
			}
		}
	}
	if s.opts.PreserveOwnership {
		if s.chownNeeded(srcSt, &dstSt, dstExists) {
			if err := unix.Fchown(int(dst.Fd()), s.chownUID(srcSt), int(srcSt.Gid)); err != nil {
				s.reportError(&os.PathError{Op: "fchown", Path: dstPath, Err: err})
				return
			}
		}
	}
	if err := dst.Close(); err != nil {
		s.reportError(err)
		return
	}
	if s.opts.PreserveMtime {
		if err := setTimes(dstPath, srcSt); err != nil {
			s.reportError(err)
		}
	}
}

// contentMatches decides whether an equal-sized destination already holds
// the source's content: by digest in checksum mode, by mtime otherwise.
func (s *Syncer) contentMatches(srcSt, dstSt *unix.Stat_t, srcPath, dstPath string) bool {
	if s.opts.Checksum {
		same, err := checksumEqual(srcPath, dstPath)
		if err != nil {
			s.reportError(err)
			return false
		}
		return same
	}
	return s.sameMtime(srcSt, dstSt)
}

// ensureWritable repairs write permission on an existing destination the
// way a non-root copy must: user write, plus group write when the file
// belongs to someone else. Reports success.
func (s *Syncer) ensureWritable(dstPath string, dstSt *unix.Stat_t, dstExists *bool) bool {
	err := unix.Access(dstPath, unix.W_OK)
	if err == nil {
		return true
	}
	switch err {
	case unix.EACCES:
		mode := dstSt.Mode | unix.S_IWUSR
		if int(dstSt.Uid) != s.euid {
			mode |= unix.S_IWGRP
		}
		if err := chmod(dstPath, mode); err != nil {
			s.reportError(err)
			return false
		}
		return true
	case unix.ENOENT:
		*dstExists = false
		return true
	default:
		s.reportError(&os.PathError{Op: "access", Path: dstPath, Err: err})
		return false
	}
}

// sameMtime compares modification times under the configured window and
// granularity.
func (s *Syncer) sameMtime(a, b *unix.Stat_t) bool {
	diffS := a.Mtim.Sec - b.Mtim.Sec
	if s.opts.Subsecond {
		diffNs := a.Mtim.Nsec - b.Mtim.Nsec
		if s.opts.ModifyWindow != 0 {
			if abs64(diffNs) >= 1000 {
				if diffNs < 0 {
					diffS--
				}
				if diffS < 0 {
					diffS = -diffS - 1
				}
			} else {
				diffS = abs64(diffS)
			}
			return diffS < s.opts.ModifyWindow
		}
		return diffS == 0 && abs64(diffNs) < 1000
	}
	if s.opts.ModifyWindow != 0 {
		return abs64(diffS) <= s.opts.ModifyWindow
	}
	return diffS == 0
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// chmod applies the full mode word, including setuid/setgid/sticky bits,
// which the os.FileMode translation would drop.
func chmod(path string, mode uint32) error {
	if err := unix.Chmod(path, mode&0o7777); err != nil {
		return &os.PathError{Op: "chmod", Path: path, Err: err}
	}
	return nil
}

// setTimes copies a stat snapshot's atime and mtime onto path.
func setTimes(path string, st *unix.Stat_t) error {
	tv := []unix.Timeval{
		{Sec: st.Atim.Sec, Usec: st.Atim.Nsec / 1000},
		{Sec: st.Mtim.Sec, Usec: st.Mtim.Nsec / 1000},
	}
	if err := unix.Utimes(path, tv); err != nil {
		return &os.PathError{Op: "utimes", Path: path, Err: err}
	}
	return nil
}
