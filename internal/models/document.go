// Package models defines the domain types for md2conf.
package models

// Document is a Markdown file that maps to one Confluence page.
type Document struct {
	Path         string // absolute path on disk; the folder itself for placeholder pages
	RelPath      string // path relative to its root, slash separated
	Root         string // absolute root folder the document was found under
	Title        string
	Body         []byte // content after the title line
	ParentPath   string // Path of the parent document, empty for top-level
	IsFolderPage bool
	Placeholder  bool // synthesized for a folder without its own Markdown file
	Depth        int
}

// TopLevel reports whether the document sits directly under the ancestor page.
func (d *Document) TopLevel() bool {
	return d.ParentPath == ""
}

// PageRef is the remote view of a page, used for diffing against a Document.
type PageRef struct {
	ID         string
	Title      string
	AncestorID string
	Version    int
	Body       string
	Labels     []string
	Link       string
}

// HasLabel reports whether the page carries the given label.
func (p *PageRef) HasLabel(name string) bool {
	for _, l := range p.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// Attachment is a local file referenced by a Document's image syntax.
type Attachment struct {
	Path     string `json:"path"`     // absolute local path
	Filename string `json:"filename"` // attachment name on the page
	Comment  string `json:"comment,omitempty"`
}

// Action is the outcome of reconciling one page.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionFailed    Action = "failed"
	ActionSkipped   Action = "skipped"
	ActionDeleted   Action = "deleted"
	ActionSpared    Action = "spared"
	ActionSimulated Action = "simulated"
)
