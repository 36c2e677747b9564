package tree

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/md2conf/internal/apperr"
	"github.com/starford/md2conf/internal/testutil"
)

func titles(tr *Tree) []string {
	var out []string
	for _, d := range tr.Ordered() {
		out = append(out, d.Title)
	}
	return out
}

func TestResolve_ParentBeforeChild(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"intro.md":             "# Intro\nhello\n",
		"guide/guide.md":       "# Guide\n",
		"guide/install.md":     "# Install\n",
		"guide/deep/deep.md":   "# Deep\n",
		"guide/deep/detail.md": "# Detail\n",
	})
	tr, err := Resolve([]string{root}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := strings.Join(titles(tr), ",")
	want := "Intro,Guide,Install,Deep,Detail"
	if got != want {
		t.Errorf("order = %s, want %s", got, want)
	}

	detail, ok := tr.Lookup(filepath.Join(root, "guide", "deep", "detail.md"))
	if !ok {
		t.Fatal("detail.md not found")
	}
	if detail.ParentPath != filepath.Join(root, "guide", "deep", "deep.md") {
		t.Errorf("parent = %q", detail.ParentPath)
	}
	if detail.Depth != 2 {
		t.Errorf("depth = %d, want 2", detail.Depth)
	}
	intro, _ := tr.Lookup(filepath.Join(root, "intro.md"))
	if !intro.TopLevel() {
		t.Error("intro should be top-level")
	}
}

func TestResolve_FolderPageFallbacks(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"a/README.md": "# A Landing\n",
		"a/child.md":  "# A Child\n",
		"b.md":        "# B Sibling\n",
		"b/child.md":  "# B Child\n",
	})
	tr, err := Resolve([]string{root}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tr.Len() != 4 {
		t.Fatalf("len = %d, want 4 (sibling b.md must not be published twice)", tr.Len())
	}
	child, _ := tr.Lookup(filepath.Join(root, "b", "child.md"))
	if child.ParentPath != filepath.Join(root, "b.md") {
		t.Errorf("b/child parent = %q, want sibling b.md", child.ParentPath)
	}
	aChild, _ := tr.Lookup(filepath.Join(root, "a", "child.md"))
	if aChild.ParentPath != filepath.Join(root, "a", "README.md") {
		t.Errorf("a/child parent = %q, want README.md", aChild.ParentPath)
	}
}

func TestResolve_MissingFolderPageAborts(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"top.md":         "# Top\n",
		"orphan/page.md": "# Page\n",
	})
	_, err := Resolve([]string{root}, Options{MissingFolderPage: PolicyAbort})
	if !errors.Is(err, apperr.ErrMissingFolderPage) {
		t.Fatalf("err = %v, want ErrMissingFolderPage", err)
	}
	if !strings.Contains(err.Error(), "orphan") {
		t.Errorf("error should name the folder: %v", err)
	}
}

func TestResolve_MissingFolderPageSkips(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"top.md":              "# Top\n",
		"orphan/page.md":      "# Page\n",
		"orphan/sub/sub.md":   "# Sub\n",
		"orphan/sub/child.md": "# Child\n",
	})
	tr, err := Resolve([]string{root}, Options{MissingFolderPage: PolicySkip})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := strings.Join(titles(tr), ","); got != "Top" {
		t.Errorf("titles = %s, want only Top", got)
	}
	if len(tr.Problems()) != 1 {
		t.Fatalf("problems = %+v, want 1", tr.Problems())
	}
	skipped := tr.Skipped()
	for _, title := range []string{"Page", "Sub", "Child"} {
		if _, ok := skipped[title]; !ok {
			t.Errorf("skipped titles = %v, missing %q", skipped, title)
		}
	}
	if _, ok := skipped["Top"]; ok {
		t.Error("published document listed as skipped")
	}
}

func TestResolve_MissingFolderPagePlaceholder(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"orphan/page.md": "# Page\n",
	})
	tr, err := Resolve([]string{root}, Options{MissingFolderPage: PolicyPlaceholder})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	docs := tr.Ordered()
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}
	if !docs[0].Placeholder || docs[0].Title != "orphan" {
		t.Errorf("first doc = %+v, want placeholder titled orphan", docs[0])
	}
	if docs[1].ParentPath != docs[0].Path {
		t.Error("page should hang below the placeholder")
	}
}

func TestResolve_IgnoresFoldersWithoutMarkdown(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"page.md":        "# Page\n",
		"images/a.png":   "png",
		".git/config.md": "# hidden\n",
	})
	tr, err := Resolve([]string{root}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tr.Len() != 1 {
		t.Errorf("len = %d, want 1", tr.Len())
	}
}

func TestResolve_DuplicateTitles(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{
		"a.md": "# Setup\n",
		"b.md": "# Setup\n",
	})
	tr, err := Resolve([]string{root}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := strings.Join(titles(tr), ","); got != "Setup,Setup (1)" {
		t.Errorf("titles = %s", got)
	}
}

func TestResolve_MultipleRoots(t *testing.T) {
	r1 := testutil.WriteTree(t, map[string]string{"one.md": "# One\n"})
	r2 := testutil.WriteTree(t, map[string]string{"two.md": "# Two\n"})
	tr, err := Resolve([]string{r1, r2}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := strings.Join(titles(tr), ","); got != "One,Two" {
		t.Errorf("titles = %s", got)
	}
	if len(tr.Roots()) != 2 {
		t.Errorf("roots = %v", tr.Roots())
	}
}

func TestResolve_RootNotDir(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{"f.md": "# F\n"})
	if _, err := Resolve([]string{filepath.Join(root, "f.md")}, Options{}); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestResolve_EmptyFileFallsBackToName(t *testing.T) {
	root := testutil.WriteTree(t, map[string]string{"empty-page.md": ""})
	tr, err := Resolve([]string{root}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := tr.Ordered()[0].Title; got != "empty-page" {
		t.Errorf("title = %q", got)
	}
}
