package main

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ScottDuckworth/mtpt/pkg/exclude"
	"github.com/ScottDuckworth/mtpt/pkg/logging"
)

func testTool(out io.Writer) *duTool {
	return &duTool{
		threads:      4,
		apparentSize: true,
		summarize:    true,
		blockSize:    1,
		terminator:   '\n',
		out:          out,
		log:          logging.New(io.Discard, logging.ErrorLevel, logging.TextFormat),
	}
}

// lstatSizeSum computes the expected apparent-size total independently of
// the traversal engine.
func lstatSizeSum(t *testing.T, root string) uint64 {
	t.Helper()
	var total uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		var st unix.Stat_t
		if err := unix.Lstat(path, &st); err != nil {
			return err
		}
		total += uint64(st.Size)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return total
}

func TestSummarizedTotal(t *testing.T) {
	root := t.TempDir()
	for i, size := range []int{100, 2048, 0, 777} {
		name := filepath.Join(root, fmt.Sprintf("f%d", i))
		if err := os.WriteFile(name, make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "g"), make([]byte, 4242), 0o644); err != nil {
		t.Fatal(err)
	}

	want := lstatSizeSum(t, root)

	var buf bytes.Buffer
	tool := testTool(&buf)
	tool.processPath(root)

	if tool.errored.Load() {
		t.Fatal("unexpected traversal error")
	}
	wantLine := fmt.Sprintf("%d\t%s\n", want, root)
	if buf.String() != wantLine {
		t.Fatalf("output = %q, want %q", buf.String(), wantLine)
	}
	if tool.total != want {
		t.Fatalf("total = %d, want %d", tool.total, want)
	}
}

func TestExcludedEntriesNotCounted(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "counted"), make([]byte, 1000), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "skip.tmp"), make([]byte, 5000), 0o644); err != nil {
		t.Fatal(err)
	}

	var all, filtered bytes.Buffer
	tool := testTool(&all)
	tool.processPath(root)

	tool2 := testTool(&filtered)
	tool2.exclude = exclude.List{"*.tmp"}
	tool2.processPath(root)

	if tool2.total+5000 != tool.total {
		t.Fatalf("excluded total = %d, unfiltered = %d, want difference of 5000",
			tool2.total, tool.total)
	}
}

func TestPerDirectoryOutput(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "f"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tool := testTool(&buf)
	tool.summarize = false
	tool.processPath(root)

	out := buf.String()
	if !strings.Contains(out, "\t"+sub+"\n") {
		t.Errorf("missing per-directory line for %s in %q", sub, out)
	}
	if !strings.Contains(out, "\t"+root+"\n") {
		t.Errorf("missing line for root in %q", out)
	}
	// Subdirectory reported before its parent.
	if strings.Index(out, "\t"+sub+"\n") > strings.Index(out, "\t"+root+"\n") {
		t.Errorf("parent reported before child: %q", out)
	}
}

func TestNulTerminator(t *testing.T) {
	root := t.TempDir()
	var buf bytes.Buffer
	tool := testTool(&buf)
	tool.terminator = 0
	tool.processPath(root)

	if !strings.HasSuffix(buf.String(), "\x00") {
		t.Errorf("output %q not NUL-terminated", buf.String())
	}
}
