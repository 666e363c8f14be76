// Package sync mirrors a source tree onto a destination tree in parallel.
//
// The traversal engine drives one task per directory and one per file;
// each file task compares the destination by size and mtime (or content
// digest in checksum mode) and copies only on mismatch. Directory tasks
// create missing destination directories on entry and, on exit, delete
// destination entries that no longer exist in the source and fix up
// preserved metadata.
package sync

import (
	"io"
	"os"

	"github.com/ScottDuckworth/mtpt/pkg/exclude"
	"github.com/ScottDuckworth/mtpt/pkg/logging"
	"github.com/ScottDuckworth/mtpt/pkg/util"
)

// Options configures a Syncer.
type Options struct {
	// Threads is the worker count for the traversal.
	Threads int

	PreserveMode      bool // copy permission bits
	PreserveOwnership bool // copy gid always, uid when running as root
	PreserveMtime     bool // copy modification times
	PreserveHardlinks bool // recreate hard links between source files

	// Delete removes destination entries absent from the source.
	Delete bool

	// Exclude patterns skip source entries. ExcludeDelete patterns skip
	// them and additionally delete any matching destination entry.
	Exclude       exclude.List
	ExcludeDelete exclude.List

	// Subsecond compares mtimes at microsecond granularity: nanosecond
	// differences under 1000 are ignored.
	Subsecond bool

	// ModifyWindow treats mtimes within this many seconds as equal.
	ModifyWindow int64

	// OneFileSystem stops the traversal at mount points.
	OneFileSystem bool

	// Checksum compares file contents by digest instead of mtime.
	Checksum bool

	// Verbose prints synced paths; at 2 and above, directory
	// enter/exit markers too.
	Verbose int

	// Output receives verbose path listings. Defaults to os.Stdout.
	Output io.Writer

	// Progress, when set, counts synced entries on a terminal.
	Progress *util.ProgressCounter

	// Logger receives diagnostics. Defaults to logging.Default().
	Logger *logging.Logger
}

func (o *Options) normalize() {
	if o.Output == nil {
		o.Output = os.Stdout
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}
