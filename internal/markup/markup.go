// Package markup converts Markdown documents into Confluence storage markup.
package markup

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/starford/md2conf/internal/models"
)

// TitleResolver maps the absolute path of a local Markdown file to the title
// of the page it is published as.
type TitleResolver interface {
	TitleFor(path string) (string, bool)
}

// Options controls the optional decorations of every converted page.
type Options struct {
	// Note, when set, is shown in a note macro at the top of the page.
	Note string
	// Contents prepends a table of contents macro.
	Contents bool
}

// Result is a converted document.
type Result struct {
	Title       string              `json:"title"`
	Markup      string              `json:"markup"`
	Attachments []models.Attachment `json:"attachments"`
}

// Converter renders Markdown to storage markup. It is stateless apart from
// its configuration and safe for reuse across documents.
type Converter struct {
	md     goldmark.Markdown
	opts   Options
	titles TitleResolver
}

// New creates a Converter. titles may be nil, in which case links to local
// Markdown files are left as plain links.
func New(opts Options, titles TitleResolver) *Converter {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			extension.TaskList,
			extension.Linkify,
			extension.Footnote,
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
			html.WithXHTML(),
		),
	)
	return &Converter{md: md, opts: opts, titles: titles}
}

// Convert splits the title off src and renders the remaining body. path is
// the absolute path of the document; relative images and links resolve
// against its folder.
func (c *Converter) Convert(src []byte, path string) (*Result, error) {
	title, body := SplitTitle(src)
	out, atts, err := c.Render(body, path)
	if err != nil {
		return nil, err
	}
	return &Result{Title: title, Markup: out, Attachments: atts}, nil
}

// Render converts a Markdown body whose title line was already removed.
func (c *Converter) Render(body []byte, path string) (string, []models.Attachment, error) {
	body = reDetails.ReplaceAll(body, nil)

	var buf bytes.Buffer
	if err := c.md.Convert(body, &buf); err != nil {
		return "", nil, fmt.Errorf("markup: render: %w", err)
	}
	out := buf.String()

	out = convertSigils(out)
	out = convertBlockquotes(out)
	out = convertDoctoc(out)
	out = convertComments(out)

	// Code blocks are still HTML-escaped here; references inside them stay.
	refs := &refRewriter{docPath: path, titles: c.titles}
	out = refs.images(out)
	out = refs.links(out)
	out = convertCodeBlocks(out)

	if c.opts.Note != "" {
		out = admonition("note", "<p>"+escapeText(c.opts.Note)+"</p>") + "\n" + out
	}
	if c.opts.Contents {
		out = contentsMacro + "\n" + out
	}
	return out, refs.attachments, nil
}

var reDetails = regexp.MustCompile(`(?i)</?(?:details|summary)\b[^>]*>`)

// SplitTitle returns the title held by the first non-empty line of data
// (leading '#' and whitespace removed) and the body that follows it. A setext
// underline directly below the title is dropped with it.
func SplitTitle(data []byte) (string, []byte) {
	rest := bytes.TrimPrefix(data, []byte("\ufeff"))
	for len(rest) > 0 {
		line, next := cutLine(rest)
		title := strings.TrimSpace(string(line))
		if title == "" {
			rest = next
			continue
		}
		if !strings.HasPrefix(title, "#") {
			if under, after := cutLine(next); isSetextUnderline(under) {
				next = after
			}
		}
		return strings.TrimSpace(strings.TrimLeft(title, "#")), next
	}
	return "", nil
}

func cutLine(b []byte) (line, rest []byte) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i], b[i+1:]
	}
	return b, nil
}

func isSetextUnderline(line []byte) bool {
	s := strings.TrimSpace(string(line))
	if s == "" {
		return false
	}
	return strings.Trim(s, "=") == "" || strings.Trim(s, "-") == ""
}
