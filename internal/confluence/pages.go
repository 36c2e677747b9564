package confluence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/starford/md2conf/internal/models"
)

const (
	pageExpand    = "version,ancestors,body.storage,metadata.labels"
	childExpand   = "version,ancestors,metadata.labels"
	childPageSize = 25
)

// PageInput is the content written by CreatePage and UpdatePage.
type PageInput struct {
	Space      string
	Title      string
	Body       string
	AncestorID string
}

type content struct {
	ID        string     `json:"id,omitempty"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Space     *spaceRef  `json:"space,omitempty"`
	Version   *version   `json:"version,omitempty"`
	Ancestors []ancestor `json:"ancestors,omitempty"`
	Body      *body      `json:"body,omitempty"`
	Metadata  *metadata  `json:"metadata,omitempty"`
	Links     *links     `json:"_links,omitempty"`
}

type spaceRef struct {
	Key string `json:"key"`
}

type version struct {
	Number    int  `json:"number"`
	MinorEdit bool `json:"minorEdit,omitempty"`
}

type ancestor struct {
	ID string `json:"id"`
}

type body struct {
	Storage storage `json:"storage"`
}

type storage struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

type metadata struct {
	Labels     *labelList            `json:"labels,omitempty"`
	Properties map[string]propertyIn `json:"properties,omitempty"`
}

type labelList struct {
	Results []label `json:"results"`
}

type label struct {
	Prefix string `json:"prefix,omitempty"`
	Name   string `json:"name"`
}

type links struct {
	WebUI string `json:"webui,omitempty"`
	Base  string `json:"base,omitempty"`
	Next  string `json:"next,omitempty"`
}

type contentList struct {
	Results []content `json:"results"`
	Start   int       `json:"start"`
	Limit   int       `json:"limit"`
	Size    int       `json:"size"`
	Links   links     `json:"_links"`
}

func (c content) ref() models.PageRef {
	ref := models.PageRef{ID: c.ID, Title: c.Title}
	if c.Version != nil {
		ref.Version = c.Version.Number
	}
	if n := len(c.Ancestors); n > 0 {
		ref.AncestorID = c.Ancestors[n-1].ID
	}
	if c.Body != nil {
		ref.Body = c.Body.Storage.Value
	}
	if c.Metadata != nil && c.Metadata.Labels != nil {
		for _, l := range c.Metadata.Labels.Results {
			ref.Labels = append(ref.Labels, l.Name)
		}
	}
	if c.Links != nil {
		ref.Link = c.Links.Base + c.Links.WebUI
	}
	return ref
}

func (in PageInput) content() content {
	c := content{
		Type:  "page",
		Title: in.Title,
		Space: &spaceRef{Key: in.Space},
		Body:  &body{Storage: storage{Value: in.Body, Representation: "storage"}},
	}
	if in.AncestorID != "" {
		c.Ancestors = []ancestor{{ID: in.AncestorID}}
	}
	return c
}

// GetPage fetches a page by id.
func (c *Client) GetPage(ctx context.Context, id string) (*models.PageRef, error) {
	req := request{
		method: http.MethodGet,
		path:   "/content/" + url.PathEscape(id),
		query:  url.Values{"expand": {pageExpand}},
	}
	var out content
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	ref := out.ref()
	return &ref, nil
}

// FindPageByTitle looks a page up by its title within a space. It returns
// nil without error when no such page exists.
func (c *Client) FindPageByTitle(ctx context.Context, space, title string) (*models.PageRef, error) {
	req := request{
		method: http.MethodGet,
		path:   "/content",
		query: url.Values{
			"title":    {title},
			"spaceKey": {space},
			"type":     {"page"},
			"expand":   {pageExpand},
		},
	}
	var out contentList
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	ref := out.Results[0].ref()
	return &ref, nil
}

// CreatePage creates a page below in.AncestorID.
func (c *Client) CreatePage(ctx context.Context, in PageInput) (*models.PageRef, error) {
	req, err := jsonRequest(http.MethodPost, "/content", in.content())
	if err != nil {
		return nil, err
	}
	var out content
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	ref := out.ref()
	return &ref, nil
}

// UpdatePage replaces a page's title, body and parent. current is the
// version the caller last saw; the update is stored as a minor edit.
func (c *Client) UpdatePage(ctx context.Context, id string, current int, in PageInput) (*models.PageRef, error) {
	payload := in.content()
	payload.ID = id
	payload.Version = &version{Number: current + 1, MinorEdit: true}

	req, err := jsonRequest(http.MethodPut, "/content/"+url.PathEscape(id), payload)
	if err != nil {
		return nil, err
	}
	var out content
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	ref := out.ref()
	return &ref, nil
}

// DeletePage moves a page to the space trash.
func (c *Client) DeletePage(ctx context.Context, id string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/content/" + url.PathEscape(id)}, nil)
}

// AddLabels attaches global labels to a page.
func (c *Client) AddLabels(ctx context.Context, id string, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	payload := make([]label, len(names))
	for i, n := range names {
		payload[i] = label{Prefix: "global", Name: n}
	}
	req, err := jsonRequest(http.MethodPost, "/content/"+url.PathEscape(id)+"/label", payload)
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}

// ChildPages lists the direct children of a page, following pagination.
func (c *Client) ChildPages(ctx context.Context, id string) ([]models.PageRef, error) {
	var refs []models.PageRef
	start := 0
	for {
		req := request{
			method: http.MethodGet,
			path:   "/content/" + url.PathEscape(id) + "/child/page",
			query: url.Values{
				"expand": {childExpand},
				"start":  {strconv.Itoa(start)},
				"limit":  {strconv.Itoa(childPageSize)},
			},
		}
		var out contentList
		if err := c.do(ctx, req, &out); err != nil {
			return nil, fmt.Errorf("confluence: list children of %s: %w", id, err)
		}
		for _, r := range out.Results {
			refs = append(refs, r.ref())
		}
		if out.Links.Next == "" || len(out.Results) == 0 {
			return refs, nil
		}
		start += len(out.Results)
	}
}
