package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// ProgressCounter prints a single self-overwriting status line with a
// running item count. It stays silent when the destination is not a
// terminal, so redirected output never fills with carriage returns.
type ProgressCounter struct {
	mu       sync.Mutex
	w        io.Writer
	tty      bool
	prefix   string
	count    int64
	lastDraw time.Time
	drawn    bool
}

// NewProgressCounter creates a counter writing to w. The prefix leads the
// status line, e.g. "synced".
func NewProgressCounter(w io.Writer, prefix string) *ProgressCounter {
	p := &ProgressCounter{w: w, prefix: prefix}
	if f, ok := w.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

// Add increments the counter by n, redrawing at most every 100ms.
func (p *ProgressCounter) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count += n
	if !p.tty {
		return
	}
	if time.Since(p.lastDraw) < 100*time.Millisecond {
		return
	}
	fmt.Fprintf(p.w, "\r%s: %d", p.prefix, p.count)
	p.lastDraw = time.Now()
	p.drawn = true
}

// Count returns the current count.
func (p *ProgressCounter) Count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Done redraws the status line with the final count and ends it with a
// newline, if anything was drawn; the final count stays available via
// Count.
func (p *ProgressCounter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintf(p.w, "\r%s: %d\n", p.prefix, p.count)
		p.drawn = false
	}
}
