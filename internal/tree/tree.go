// Package tree resolves a folder of Markdown files into the page hierarchy
// that mirrors it on the wiki.
package tree

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/md2conf/internal/apperr"
	"github.com/starford/md2conf/internal/markup"
	"github.com/starford/md2conf/internal/models"
)

// Policy decides what happens to a folder that has no folder page.
type Policy string

// Missing folder page policies.
const (
	PolicyAbort       Policy = "abort"
	PolicySkip        Policy = "skip"
	PolicyPlaceholder Policy = "placeholder"
)

// Options configures Resolve.
type Options struct {
	MissingFolderPage Policy
}

// Problem describes a folder that could not be mirrored.
type Problem struct {
	Folder string
	Reason string
}

// Node is one document in the resolved hierarchy.
type Node struct {
	Doc      *models.Document
	Parent   *Node
	Children []*Node
}

// Tree is the in-memory page hierarchy built once per run.
type Tree struct {
	roots    []string
	top      []*Node
	byPath   map[string]*Node
	titles   map[string]struct{}
	skipped  map[string]struct{} // titles of documents below skipped folders
	problems []Problem
	policy   Policy
}

// Resolve walks every root folder and builds the page hierarchy.
// Top-level documents of every root share the same (remote) ancestor.
func Resolve(roots []string, opts Options) (*Tree, error) {
	policy := opts.MissingFolderPage
	if policy == "" {
		policy = PolicyAbort
	}
	t := &Tree{
		byPath: make(map[string]*Node),
		titles:  make(map[string]struct{}),
		skipped: make(map[string]struct{}),
		policy:  policy,
	}

	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("tree: resolve root: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("tree: stat root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("tree: root is not a directory: %s", abs)
		}
		t.roots = append(t.roots, abs)
		if err := t.walkFolder(abs, abs, nil, nil); err != nil {
			return nil, err
		}
	}

	if policy == PolicyAbort && len(t.problems) > 0 {
		folders := make([]string, len(t.problems))
		for i, p := range t.problems {
			folders[i] = p.Folder
		}
		return nil, fmt.Errorf("%w: %s", apperr.ErrMissingFolderPage, strings.Join(folders, ", "))
	}
	return t, nil
}

// walkFolder adds the documents of dir below parent and recurses into its
// subfolders. consumed holds files of dir already used as a folder page.
func (t *Tree) walkFolder(root, dir string, parent *Node, consumed map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("tree: read dir %s: %w", dir, err)
	}

	var files, folders []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		p := filepath.Join(dir, name)
		switch {
		case e.IsDir():
			if containsMarkdown(p) {
				folders = append(folders, p)
			}
		case isMarkdown(name):
			files = append(files, p)
		}
	}
	sort.Strings(files)
	sort.Strings(folders)

	// Folder pages are picked first so a sibling X.md used for folder X is
	// not also published as a plain page.
	folderPages := make(map[string]string, len(folders))
	siblingUsed := make(map[string]bool)
	for _, f := range folders {
		page, sibling := findFolderPage(f)
		folderPages[f] = page
		if sibling {
			siblingUsed[page] = true
		}
	}

	for _, f := range files {
		if consumed[f] || siblingUsed[f] {
			continue
		}
		if _, err := t.addFile(root, f, parent, false); err != nil {
			return err
		}
	}

	for _, f := range folders {
		page := folderPages[f]
		var node *Node
		switch {
		case page != "":
			n, err := t.addFile(root, page, parent, true)
			if err != nil {
				return err
			}
			node = n
		case t.policy == PolicyPlaceholder:
			node = t.addPlaceholder(root, f, parent)
		default:
			t.problems = append(t.problems, Problem{
				Folder: f,
				Reason: fmt.Sprintf("no %s.md, README.md or sibling %s.md", filepath.Base(f), filepath.Base(f)),
			})
			t.collectSkipped(f)
			continue
		}

		inner := map[string]bool{}
		if page != "" && filepath.Dir(page) == f {
			inner[page] = true
		}
		if err := t.walkFolder(root, f, node, inner); err != nil {
			return err
		}
	}
	return nil
}

// findFolderPage looks for the page of folder dir: dir/<name>.md, then
// dir/README.md, then the sibling <name>.md next to dir.
func findFolderPage(dir string) (page string, sibling bool) {
	name := filepath.Base(dir)
	if p := filepath.Join(dir, name+".md"); isFile(p) {
		return p, false
	}
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(e.Name(), "readme.md") {
				return filepath.Join(dir, e.Name()), false
			}
		}
	}
	if p := filepath.Join(filepath.Dir(dir), name+".md"); isFile(p) {
		return p, true
	}
	return "", false
}

func (t *Tree) addFile(root, path string, parent *Node, folderPage bool) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tree: read %s: %w", path, err)
	}
	title, body := markup.SplitTitle(data)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	rel, _ := filepath.Rel(root, path)
	doc := &models.Document{
		Path:         path,
		RelPath:      filepath.ToSlash(rel),
		Root:         root,
		Title:        t.uniqueTitle(title),
		Body:         body,
		IsFolderPage: folderPage,
	}
	return t.attach(doc, parent), nil
}

func (t *Tree) addPlaceholder(root, dir string, parent *Node) *Node {
	rel, _ := filepath.Rel(root, dir)
	doc := &models.Document{
		Path:         dir,
		RelPath:      filepath.ToSlash(rel),
		Root:         root,
		Title:        t.uniqueTitle(filepath.Base(dir)),
		IsFolderPage: true,
		Placeholder:  true,
	}
	return t.attach(doc, parent)
}

func (t *Tree) attach(doc *models.Document, parent *Node) *Node {
	n := &Node{Doc: doc, Parent: parent}
	if parent != nil {
		doc.ParentPath = parent.Doc.Path
		doc.Depth = parent.Doc.Depth + 1
		parent.Children = append(parent.Children, n)
	} else {
		t.top = append(t.top, n)
	}
	t.byPath[doc.Path] = n
	return n
}

// uniqueTitle disambiguates titles already used in this tree with " (n)".
func (t *Tree) uniqueTitle(title string) string {
	candidate := title
	for i := 1; ; i++ {
		if _, taken := t.titles[candidate]; !taken {
			t.titles[candidate] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)", title, i)
	}
}

// Ordered returns every document parent-before-child; siblings keep walk order.
func (t *Tree) Ordered() []*models.Document {
	var out []*models.Document
	var visit func(nodes []*Node)
	visit = func(nodes []*Node) {
		for _, n := range nodes {
			out = append(out, n.Doc)
			visit(n.Children)
		}
	}
	visit(t.top)
	return out
}

// Len returns the number of documents in the tree.
func (t *Tree) Len() int { return len(t.byPath) }

// Roots returns the absolute root folders.
func (t *Tree) Roots() []string { return t.roots }

// Problems returns the folders that were skipped.
func (t *Tree) Problems() []Problem { return t.problems }

// Lookup returns the document stored under the given absolute path.
func (t *Tree) Lookup(path string) (*models.Document, bool) {
	n, ok := t.byPath[filepath.Clean(path)]
	if !ok {
		return nil, false
	}
	return n.Doc, true
}

// TitleFor returns the page title of the Markdown file at path.
func (t *Tree) TitleFor(path string) (string, bool) {
	doc, ok := t.Lookup(path)
	if !ok {
		return "", false
	}
	return doc.Title, true
}

// Titles returns the set of all page titles in the tree.
func (t *Tree) Titles() map[string]struct{} {
	out := make(map[string]struct{}, len(t.byPath))
	for _, n := range t.byPath {
		out[n.Doc.Title] = struct{}{}
	}
	return out
}

// Skipped returns the titles of the documents below skipped folders. They
// are not published, but their remote pages must not be treated as orphans.
func (t *Tree) Skipped() map[string]struct{} {
	return t.skipped
}

// collectSkipped records the title of every Markdown file below dir.
func (t *Tree) collectSkipped(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !isMarkdown(d.Name()) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		if title, _ := markup.SplitTitle(data); title != "" {
			t.skipped[title] = struct{}{}
		}
		return nil
	})
}

func isMarkdown(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// containsMarkdown reports whether dir has a Markdown file at any depth.
func containsMarkdown(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && isMarkdown(d.Name()) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
