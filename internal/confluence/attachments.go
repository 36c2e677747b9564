package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"

	"github.com/starford/md2conf/internal/models"
)

// HashProperty is the content property holding an attachment's SHA-256.
const HashProperty = "hash"

// RemoteAttachment is an attachment stored on a page.
type RemoteAttachment struct {
	ID    string
	Title string
	Hash  string // SHA-256 from the hash property, empty when unknown
}

type propertyIn struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Version *version        `json:"version,omitempty"`
}

type propertyOut struct {
	Key     string   `json:"key"`
	Value   any      `json:"value"`
	Version *version `json:"version,omitempty"`
}

type hashValue struct {
	SHA256 string `json:"sha256"`
}

func (c content) attachment() *RemoteAttachment {
	a := &RemoteAttachment{ID: c.ID, Title: c.Title}
	if c.Metadata != nil {
		if p, ok := c.Metadata.Properties[HashProperty]; ok {
			var h hashValue
			if err := json.Unmarshal(p.Value, &h); err == nil {
				a.Hash = h.SHA256
			}
		}
	}
	return a
}

// FindAttachment looks up an attachment of a page by file name. It returns
// nil without error when the page has no such attachment.
func (c *Client) FindAttachment(ctx context.Context, pageID, filename string) (*RemoteAttachment, error) {
	req := request{
		method: http.MethodGet,
		path:   "/content/" + url.PathEscape(pageID) + "/child/attachment",
		query: url.Values{
			"filename": {filename},
			"expand":   {"metadata.properties." + HashProperty},
		},
	}
	var out contentList
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return out.Results[0].attachment(), nil
}

// UploadAttachment uploads att to a page. With existingID set the upload is
// stored as a new version of that attachment.
func (c *Client) UploadAttachment(ctx context.Context, pageID, existingID string, att models.Attachment) (*RemoteAttachment, error) {
	data, err := os.ReadFile(att.Path)
	if err != nil {
		return nil, fmt.Errorf("confluence: read attachment: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", att.Filename)
	if err != nil {
		return nil, fmt.Errorf("confluence: build upload: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("confluence: build upload: %w", err)
	}
	_ = mw.WriteField("comment", att.Comment)
	_ = mw.WriteField("minorEdit", "true")
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("confluence: build upload: %w", err)
	}

	path := "/content/" + url.PathEscape(pageID) + "/child/attachment"
	if existingID != "" {
		path += "/" + url.PathEscape(existingID) + "/data"
	}
	req := request{
		method:      http.MethodPost,
		path:        path,
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		header:      http.Header{"X-Atlassian-Token": {"no-check"}},
	}

	// A new attachment comes back as a result list, a new version as a
	// single content object.
	var out struct {
		content
		Results []content `json:"results"`
	}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	if len(out.Results) > 0 {
		return out.Results[0].attachment(), nil
	}
	return out.content.attachment(), nil
}

// SetAttachmentHash stores the SHA-256 of an attachment in its hash property.
func (c *Client) SetAttachmentHash(ctx context.Context, attachmentID, sum string) error {
	return c.SetProperty(ctx, attachmentID, HashProperty, hashValue{SHA256: sum})
}

// SetProperty creates or replaces a content property.
func (c *Client) SetProperty(ctx context.Context, contentID, key string, value any) error {
	path := "/content/" + url.PathEscape(contentID) + "/property"

	var current propertyIn
	err := c.do(ctx, request{method: http.MethodGet, path: path + "/" + url.PathEscape(key)}, &current)
	switch {
	case IsNotFound(err):
		req, err := jsonRequest(http.MethodPost, path, propertyOut{Key: key, Value: value})
		if err != nil {
			return err
		}
		return c.do(ctx, req, nil)
	case err != nil:
		return err
	}

	next := 1
	if current.Version != nil {
		next = current.Version.Number + 1
	}
	req, err := jsonRequest(http.MethodPut, path+"/"+url.PathEscape(key), propertyOut{
		Key:     key,
		Value:   value,
		Version: &version{Number: next, MinorEdit: true},
	})
	if err != nil {
		return err
	}
	return c.do(ctx, req, nil)
}
