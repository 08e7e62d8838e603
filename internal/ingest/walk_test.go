package ingest_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"ferry/internal/ingest"
	"ferry/internal/testsupport"
)

func TestExpandIsSortedDepthFirst(t *testing.T) {
	base := t.TempDir()
	root := testsupport.WriteTree(t, filepath.Join(base, "CorpusX"),
		"z.wav",
		"b/trs/b1.eaf",
		"a/2.eaf",
		"a/1.eaf",
		"c.eaf",
	)

	got, err := ingest.Expand([]string{root})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	var names []string
	var dirs [][]string
	for _, c := range got {
		names = append(names, c.Name)
		dirs = append(dirs, c.Dirs)
	}
	wantNames := []string{"1.eaf", "2.eaf", "b1.eaf", "c.eaf", "z.wav"}
	if !reflect.DeepEqual(names, wantNames) {
		t.Fatalf("order = %v, want %v", names, wantNames)
	}
	up := []string{filepath.Base(filepath.Dir(base)), filepath.Base(base)}
	under := func(names ...string) []string { return append(append([]string(nil), up...), names...) }
	wantDirs := [][]string{
		under("CorpusX", "a"),
		under("CorpusX", "a"),
		under("CorpusX", "b", "trs"),
		under("CorpusX"),
		under("CorpusX"),
	}
	if !reflect.DeepEqual(dirs, wantDirs) {
		t.Fatalf("dirs = %v, want %v", dirs, wantDirs)
	}
}

func TestExpandKeepsRootOrderAndPlainFiles(t *testing.T) {
	base := t.TempDir()
	testsupport.WriteTree(t, base, "one.eaf", "dir/two.eaf")

	got, err := ingest.Expand([]string{filepath.Join(base, "one.eaf"), filepath.Join(base, "dir")})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 2 || got[0].Name != "one.eaf" || got[0].Dirs != nil || got[1].Dirs[len(got[1].Dirs)-1] != "dir" {
		t.Fatalf("unexpected candidates %+v", got)
	}
	if got[0].Size != 16 {
		t.Fatalf("size = %d", got[0].Size)
	}
}

func TestExpandResolvesRelativeRoots(t *testing.T) {
	base := t.TempDir()
	testsupport.WriteTree(t, base, "CorpusX/ep1/file1.eaf", "CorpusX/ep1/trs/file2.eaf")
	t.Chdir(filepath.Join(base, "CorpusX", "ep1"))

	got, err := ingest.Expand([]string{"."})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected candidates %+v", got)
	}
	want := []string{filepath.Base(base), "CorpusX", "ep1"}
	if !reflect.DeepEqual(got[0].Dirs, want) {
		t.Fatalf("dirs = %v, want %v", got[0].Dirs, want)
	}
	if !reflect.DeepEqual(got[1].Dirs, append(want, "trs")) {
		t.Fatalf("dirs = %v, want %v", got[1].Dirs, append(want, "trs"))
	}

	t.Chdir(filepath.Join(base, "CorpusX", "ep1", "trs"))
	got, err = ingest.Expand([]string{".."})
	if err != nil {
		t.Fatalf("Expand ..: %v", err)
	}
	for _, c := range got {
		for _, d := range c.Dirs {
			if d == "." || d == ".." {
				t.Fatalf("relative segment leaked into %v", c.Dirs)
			}
		}
	}
}

func TestExpandTrailingSeparator(t *testing.T) {
	base := t.TempDir()
	testsupport.WriteTree(t, base, "ep1/a.eaf")
	got, err := ingest.Expand([]string{filepath.Join(base, "ep1") + string(filepath.Separator)})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	dirs := got[0].Dirs
	if dirs[len(dirs)-1] != "ep1" {
		t.Fatalf("dirs = %v", dirs)
	}
	for _, d := range dirs {
		if d == "" || d == string(filepath.Separator) {
			t.Fatalf("empty or separator segment in %v", dirs)
		}
	}
}

func TestExpandSkipsSymlinkedDirectories(t *testing.T) {
	base := t.TempDir()
	root := testsupport.WriteTree(t, filepath.Join(base, "root"), "a.eaf")
	if err := os.Symlink(root, filepath.Join(root, "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	got, err := ingest.Expand([]string{root})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected symlinked dir to be skipped, got %+v", got)
	}
}

func TestExpandMissingRoot(t *testing.T) {
	if _, err := ingest.Expand([]string{filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatal("expected error for missing root")
	}
}
