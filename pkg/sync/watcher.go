package sync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long the watcher waits after the last filesystem
// event before re-syncing, so bursts of writes coalesce into one run.
const watchDebounce = 500 * time.Millisecond

// Watch performs an initial sync of src onto dst and then keeps the
// destination current: filesystem events on the source tree schedule a
// debounced re-sync until ctx is cancelled.
func (s *Syncer) Watch(ctx context.Context, src, dst string) error {
	if err := s.Run(src, dst); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, src); err != nil {
		return err
	}

	log := s.opts.Logger.WithComponent("watch")
	log.Infof("watching %s", src)

	// The timer is armed only while a re-sync is pending.
	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				// New directories must be watched before events inside
				// them can be seen.
				if st, err := os.Lstat(ev.Name); err == nil && st.IsDir() {
					if err := watchTree(watcher, ev.Name); err != nil {
						log.Warnf("watch %s: %v", ev.Name, err)
					}
				}
			}
			log.Debugf("event %s", ev)
			if pending {
				if !timer.Stop() {
					<-timer.C
				}
			}
			timer.Reset(watchDebounce)
			pending = true

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watcher: %v", err)

		case <-timer.C:
			pending = false
			log.Debugf("re-syncing %s", src)
			if err := s.Run(src, dst); err != nil {
				return err
			}
		}
	}
}

// watchTree registers root and every directory below it. Directories that
// disappear mid-walk are skipped.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
