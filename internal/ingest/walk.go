package ingest

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Candidate is a file found by Expand, with the directory names it was found
// under (outermost first). For a directory root the names start with up to
// two of the root's ancestors, so inference sees the same context whether a
// command is given CorpusX/ep1 or . from inside it. Files given directly have
// no Dirs.
type Candidate struct {
	Path      string
	Name      string
	Dirs      []string
	Size      int64
	MediaType string
}

type walkNode struct {
	path string
	dirs []string
	info fs.FileInfo
}

// Expand flattens files and directory trees into candidates. Roots are taken
// in the order given; each directory contributes its own name as a segment
// and its children are visited depth-first in lexicographic order, so the
// result does not depend on file system enumeration order. Symbolic links to
// directories are not followed.
func Expand(roots []string) ([]Candidate, error) {
	var out []Candidate
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", root, err)
		}
		if !info.IsDir() {
			out = append(out, newCandidate(root, nil, info))
			continue
		}
		found, err := expandDir(root, info)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// rootAncestors is how many directory names above a root are kept as context.
const rootAncestors = 2

// rootSegments returns the names of root and up to rootAncestors of its
// ancestors, outermost first. Relative forms such as . and .. resolve to the
// real directory names; the file system root has no name.
func rootSegments(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", root, err)
	}
	var segments []string
	for dir := abs; len(segments) <= rootAncestors; {
		name := filepath.Base(dir)
		if !isDirName(name) {
			break
		}
		segments = append(segments, name)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	slices.Reverse(segments)
	return segments, nil
}

func isDirName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, filepath.Separator) && name != filepath.VolumeName(name)
}

func expandDir(root string, rootInfo fs.FileInfo) ([]Candidate, error) {
	segments, err := rootSegments(root)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	stack := []walkNode{{path: root, info: rootInfo}}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !node.info.IsDir() {
			out = append(out, newCandidate(node.path, node.dirs, node.info))
			continue
		}

		children, err := os.ReadDir(node.path)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", node.path, err)
		}
		slices.SortFunc(children, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })

		dirs := segments
		if node.path != root {
			dirs = append(slices.Clone(node.dirs), filepath.Base(node.path))
		}
		// Push in reverse so the smallest name is popped first.
		for i := len(children) - 1; i >= 0; i-- {
			child := children[i]
			path := filepath.Join(node.path, child.Name())
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.IsDir() && child.Type()&fs.ModeSymlink != 0 {
				continue
			}
			if !info.IsDir() && !info.Mode().IsRegular() {
				continue
			}
			stack = append(stack, walkNode{path: path, dirs: dirs, info: info})
		}
	}
	return out, nil
}

func newCandidate(path string, dirs []string, info fs.FileInfo) Candidate {
	name := filepath.Base(path)
	return Candidate{
		Path:      path,
		Name:      name,
		Dirs:      slices.Clone(dirs),
		Size:      info.Size(),
		MediaType: mediaTypeOf(name),
	}
}

// mediaTypeOf returns the MIME type registered for the file extension,
// without parameters.
func mediaTypeOf(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}
	mt := mime.TypeByExtension(strings.ToLower(ext))
	if mt == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return mt
}
