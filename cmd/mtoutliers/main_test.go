package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ScottDuckworth/mtpt/pkg/logging"
	"github.com/ScottDuckworth/mtpt/pkg/traverse"
)

func runTool(t *testing.T, tool *outliersTool, root string) string {
	t.Helper()
	var buf bytes.Buffer
	tool.out = &buf
	tool.log = logging.New(io.Discard, logging.ErrorLevel, logging.TextFormat)
	tool.threads = 4
	tool.rootLen = len(root)

	cfg := traverse.Config{Threads: tool.threads, Sort: true}
	v := traverse.Visitor[subtreeSize]{
		DirEnter: tool.dirEnter,
		DirExit:  tool.dirExit,
		File:     tool.file,
		Error:    tool.walkError,
	}
	if _, err := traverse.Walk(cfg, root, v); err != nil {
		t.Fatal(err)
	}
	if tool.errored.Load() {
		t.Fatal("unexpected traversal error")
	}
	return buf.String()
}

func writeSized(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReportsLargeOutliers(t *testing.T) {
	root := t.TempDir()
	for i, size := range []int{10, 10, 10} {
		writeSized(t, filepath.Join(root, fmt.Sprintf("small%d", i)), size)
	}
	writeSized(t, filepath.Join(root, "big"), 1000)

	out := runTool(t, &outliersTool{factor: 2}, root)

	// cutoff = 2 * 1030 / 4 = 515; only "big" qualifies.
	if !strings.Contains(out, "1000 "+root+"/big") {
		t.Errorf("big file not reported: %q", out)
	}
	if strings.Contains(out, "small") {
		t.Errorf("ordinary files reported: %q", out)
	}
}

func TestReportsSmallOutliers(t *testing.T) {
	root := t.TempDir()
	for i, size := range []int{1000, 1000, 1000} {
		writeSized(t, filepath.Join(root, fmt.Sprintf("big%d", i)), size)
	}
	writeSized(t, filepath.Join(root, "tiny"), 1)

	out := runTool(t, &outliersTool{lessThan: true, factor: 100}, root)

	// cutoff = 3001 / (100 * 4) = 7; only "tiny" is at or below it.
	if !strings.Contains(out, "1 "+root+"/tiny") {
		t.Errorf("tiny file not reported: %q", out)
	}
	if strings.Contains(out, "big") {
		t.Errorf("ordinary files reported: %q", out)
	}
}

func TestOutlierReportedOnceAtLowestLevel(t *testing.T) {
	// The big file dominates sub; once reported there, its size must
	// not be reported again at the parent.
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		writeSized(t, filepath.Join(sub, fmt.Sprintf("small%d", i)), 10)
	}
	writeSized(t, filepath.Join(sub, "big"), 100000)
	for i := 0; i < 3; i++ {
		writeSized(t, filepath.Join(root, fmt.Sprintf("other%d", i)), 10)
	}

	out := runTool(t, &outliersTool{factor: 2}, root)

	if n := strings.Count(out, "/big"); n != 1 {
		t.Errorf("big reported %d times: %q", n, out)
	}
	if strings.Contains(out, root+"/sub\n") {
		t.Errorf("subtree re-reported after its outlier was claimed: %q", out)
	}
}

func TestNonRegularFilesIgnored(t *testing.T) {
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "real"), 100)
	if err := os.Symlink("real", filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	out := runTool(t, &outliersTool{factor: 1}, root)
	if strings.Contains(out, "link") {
		t.Errorf("symlink reported: %q", out)
	}
}
