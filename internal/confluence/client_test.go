package confluence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/md2conf/internal/apperr"
	"github.com/starford/md2conf/internal/confluencetest"
	"github.com/starford/md2conf/internal/models"
)

func newTestClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithRateLimit(0), WithRetry(3, time.Millisecond, 2)}, opts...)
	return New(url, "bob", "secret", opts...)
}

func TestBaseURL(t *testing.T) {
	cases := []struct {
		org   string
		noSSL bool
		want  string
	}{
		{"acme", false, "https://acme.atlassian.net/wiki"},
		{"wiki.example.com", false, "https://wiki.example.com"},
		{"https://wiki.example.com/", false, "https://wiki.example.com"},
		{"wiki.example.com", true, "http://wiki.example.com"},
		{"acme", true, "http://acme.atlassian.net/wiki"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BaseURL(tc.org, tc.noSSL), "org %q nossl %v", tc.org, tc.noSSL)
	}
}

func TestClient_PageLifecycle(t *testing.T) {
	srv := confluencetest.New(t, "bob", "secret")
	home := srv.AddPage("DOC", "Home", "", "")
	c := newTestClient(srv.URL)
	ctx := context.Background()

	created, err := c.CreatePage(ctx, PageInput{Space: "DOC", Title: "Guide", Body: "<p>hi</p>", AncestorID: home})
	require.NoError(t, err)
	assert.Equal(t, "Guide", created.Title)
	assert.Equal(t, home, created.AncestorID)
	assert.Equal(t, 1, created.Version)
	assert.Contains(t, created.Link, "/pages/"+created.ID)

	require.NoError(t, c.AddLabels(ctx, created.ID, "md_to_conf"))

	found, err := c.FindPageByTitle(ctx, "DOC", "Guide")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.True(t, found.HasLabel("md_to_conf"))
	assert.Equal(t, "<p>hi</p>", found.Body)

	updated, err := c.UpdatePage(ctx, found.ID, found.Version, PageInput{Space: "DOC", Title: "Guide", Body: "<p>bye</p>", AncestorID: home})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	missing, err := c.FindPageByTitle(ctx, "DOC", "Nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, c.DeletePage(ctx, created.ID))
	_, err = c.GetPage(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestClient_ChildPagesPaginates(t *testing.T) {
	srv := confluencetest.New(t, "bob", "secret")
	home := srv.AddPage("DOC", "Home", "", "")
	for i := 0; i < 30; i++ {
		srv.AddPage("DOC", "Child "+strconv.Itoa(i), home, "", "md_to_conf")
	}
	c := newTestClient(srv.URL)

	children, err := c.ChildPages(context.Background(), home)
	require.NoError(t, err)
	assert.Len(t, children, 30)
	assert.Equal(t, home, children[0].AncestorID)
	assert.True(t, children[29].HasLabel("md_to_conf"))
}

func TestClient_Attachments(t *testing.T) {
	srv := confluencetest.New(t, "bob", "secret")
	page := srv.AddPage("DOC", "Page", "", "")
	c := newTestClient(srv.URL)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "diagram.png")
	require.NoError(t, os.WriteFile(path, []byte("png-v1"), 0o644))
	att := models.Attachment{Path: path, Filename: "diagram.png", Comment: "Diagram"}

	none, err := c.FindAttachment(ctx, page, "diagram.png")
	require.NoError(t, err)
	assert.Nil(t, none)

	uploaded, err := c.UploadAttachment(ctx, page, "", att)
	require.NoError(t, err)
	require.NotEmpty(t, uploaded.ID)
	require.NoError(t, c.SetAttachmentHash(ctx, uploaded.ID, "sum-1"))

	found, err := c.FindAttachment(ctx, page, "diagram.png")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, uploaded.ID, found.ID)
	assert.Equal(t, "sum-1", found.Hash)

	require.NoError(t, os.WriteFile(path, []byte("png-v2"), 0o644))
	again, err := c.UploadAttachment(ctx, page, found.ID, att)
	require.NoError(t, err)
	assert.Equal(t, found.ID, again.ID)
	require.NoError(t, c.SetAttachmentHash(ctx, again.ID, "sum-2"))

	stored := srv.Attachments(page)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].Versions)
	assert.Equal(t, "png-v2", string(stored[0].Data))
	assert.Equal(t, "Diagram", stored[0].Comment)

	found, err = c.FindAttachment(ctx, page, "diagram.png")
	require.NoError(t, err)
	assert.Equal(t, "sum-2", found.Hash)
}

func TestClient_UnauthorizedIsNotRetried(t *testing.T) {
	srv := confluencetest.New(t, "bob", "other")
	c := newTestClient(srv.URL)

	_, err := c.GetPage(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	assert.Equal(t, 1, srv.Requests())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"7","type":"page","title":"Home","version":{"number":3}}`))
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).GetPage(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Home", ref.Title)
	assert.Equal(t, 3, ref.Version)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"statusCode":500,"message":"boom"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, WithRetry(2, time.Millisecond, 2)).GetPage(context.Background(), "7")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetPage(context.Background(), "7")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_PostIsNotRetriedAfterServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreatePage(context.Background(), PageInput{Space: "DOC", Title: "New", Body: "<p>x</p>"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "a create that may have landed must not be repeated")
}

func TestClient_PostIsRetriedWhenRejected(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"9","type":"page","title":"New","version":{"number":1}}`))
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).CreatePage(context.Background(), PageInput{Space: "DOC", Title: "New", Body: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, "9", ref.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		method string
		status int
		want   bool
	}{
		{http.MethodGet, http.StatusInternalServerError, true},
		{http.MethodPut, http.StatusBadGateway, true},
		{http.MethodPost, http.StatusInternalServerError, false},
		{http.MethodPost, http.StatusGatewayTimeout, false},
		{http.MethodPost, http.StatusServiceUnavailable, true},
		{http.MethodPost, http.StatusTooManyRequests, true},
		{http.MethodGet, http.StatusNotFound, false},
	}
	for _, tc := range cases {
		err := &APIError{StatusCode: tc.status}
		assert.Equal(t, tc.want, isRetryable(tc.method, err), "%s %d", tc.method, tc.status)
	}
}

func TestNewAPIError_RetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"2"}}}
	err := newAPIError(resp, nil, "http://x")
	assert.Equal(t, 2*time.Second, err.RetryAfter)
	assert.Equal(t, "Too Many Requests", err.Message)
	assert.True(t, isRetryable(http.MethodGet, err))
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL).GetPage(ctx, "7")
	assert.ErrorIs(t, err, context.Canceled)
}
