// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes md2conf's conversion and hierarchy tools over stdio.
// None of its tools talk to Confluence.
package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/md2conf/internal/markup"
	"github.com/starford/md2conf/internal/models"
	"github.com/starford/md2conf/internal/tree"
)

// Server wraps the MCP server with md2conf tools.
type Server struct {
	mcp    *server.MCPServer
	roots  []string
	tree   tree.Options
	markup markup.Options
}

// Document is one entry of the list_documents result.
type Document struct {
	Path        string `json:"path"`
	Title       string `json:"title"`
	Parent      string `json:"parent,omitempty"`
	FolderPage  bool   `json:"folder_page,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
	Depth       int    `json:"depth"`
}

// New creates a new MCP server for the given document roots.
func New(roots []string, treeOpts tree.Options, markupOpts markup.Options) *Server {
	s := &Server{roots: roots, tree: treeOpts, markup: markupOpts}

	s.mcp = server.NewMCPServer(
		"md2conf",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("convert_markdown",
		mcp.WithDescription("Convert a Markdown document to Confluence storage markup. "+
			"The first non-empty line is the page title. Returns JSON with title, markup "+
			"and the local attachments the page references."),
		mcp.WithString("markdown", mcp.Required(), mcp.Description("Markdown source")),
		mcp.WithString("path", mcp.Description("Optional document path; relative images and links resolve against its folder")),
		mcp.WithString("note", mcp.Description("Optional banner note shown at the top of the page")),
		mcp.WithBoolean("contents", mcp.Description("Prepend a table of contents macro")),
	), s.convertMarkdown)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the Markdown documents under the configured folders "+
			"in publish order, with each page's title and parent."),
	), s.listDocuments)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) convertMarkdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("markdown")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := s.markup
	if note := req.GetString("note", ""); note != "" {
		opts.Note = note
	}
	opts.Contents = req.GetBool("contents", opts.Contents)

	path := req.GetString("path", "")
	if path == "" && len(s.roots) > 0 {
		path = filepath.Join(s.roots[0], "document.md")
	}
	if path != "" {
		if abs, absErr := filepath.Abs(path); absErr == nil {
			path = abs
		}
	}

	// Links to other documents resolve when the folders form a valid tree.
	var titles markup.TitleResolver
	if t, resolveErr := tree.Resolve(s.roots, s.tree); resolveErr == nil {
		titles = t
	}

	res, err := markup.New(opts, titles).Convert([]byte(src), path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Attachments == nil {
		res.Attachments = []models.Attachment{}
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := tree.Resolve(s.roots, s.tree)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	docs := make([]Document, 0, t.Len())
	for _, d := range t.Ordered() {
		doc := Document{
			Path:        d.Path,
			Title:       d.Title,
			FolderPage:  d.IsFolderPage,
			Placeholder: d.Placeholder,
			Depth:       d.Depth,
		}
		if d.ParentPath != "" {
			if title, ok := t.TitleFor(d.ParentPath); ok {
				doc.Parent = title
			}
		}
		docs = append(docs, doc)
	}
	out, _ := json.MarshalIndent(docs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
