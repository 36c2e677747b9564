// Package confluencetest provides an in-memory Confluence REST server for tests.
package confluencetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Page is a page stored by the fake server.
type Page struct {
	ID       string
	Title    string
	Space    string
	ParentID string
	Version  int
	Body     string
	Labels   []string
}

// Attachment is an attachment stored by the fake server.
type Attachment struct {
	ID       string
	PageID   string
	Title    string
	Comment  string
	Data     []byte
	Versions int
}

type property struct {
	Value   json.RawMessage
	Version int
}

// Server is a fake Confluence site. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	nextID      int
	macroID     int
	pages       map[string]*Page
	attachments map[string]*Attachment
	props       map[string]map[string]*property
	failTitles  map[string]int
	denyAll     int
	username    string
	apiKey      string
	requests    int
	mutations   int
	uploads     int
	calls       []string
}

// New starts a fake server that is closed when the test ends. Requests must
// carry basic auth for username and apiKey.
func New(t testing.TB, username, apiKey string) *Server {
	s := &Server{
		nextID:      1000,
		pages:       make(map[string]*Page),
		attachments: make(map[string]*Attachment),
		props:       make(map[string]map[string]*property),
		failTitles:  make(map[string]int),
		username:    username,
		apiKey:      apiKey,
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.basicAuth)

	r.Route("/rest/api/content", func(r chi.Router) {
		r.Get("/", s.findContent)
		r.Post("/", s.createContent)
		r.Get("/{id}", s.getContent)
		r.Put("/{id}", s.updateContent)
		r.Delete("/{id}", s.deleteContent)
		r.Post("/{id}/label", s.addLabels)
		r.Get("/{id}/child/page", s.childPages)
		r.Get("/{id}/child/attachment", s.listAttachments)
		r.Post("/{id}/child/attachment", s.createAttachment)
		r.Post("/{id}/child/attachment/{attID}/data", s.updateAttachmentData)
		r.Post("/{id}/property", s.createProperty)
		r.Get("/{id}/property/{key}", s.getProperty)
		r.Put("/{id}/property/{key}", s.updateProperty)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		if r.Method != http.MethodGet {
			s.mutations++
		}
		s.calls = append(s.calls, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/rest/api"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		deny := s.denyAll
		s.mu.Unlock()
		if deny != 0 {
			writeError(w, deny, "denied")
			return
		}
		user, key, ok := r.BasicAuth()
		if !ok || user != s.username || key != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AddPage seeds a page and returns its id. Labels are stored as given.
func (s *Server) AddPage(space, title, parentID, body string, labels ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	s.pages[id] = &Page{
		ID:       id,
		Title:    title,
		Space:    space,
		ParentID: parentID,
		Version:  1,
		Body:     body,
		Labels:   append([]string(nil), labels...),
	}
	return id
}

// FailTitle makes every create or update of a page with this title fail
// with status.
func (s *Server) FailTitle(title string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTitles[title] = status
}

// DenyAll makes every request fail with status; zero restores normal service.
func (s *Server) DenyAll(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyAll = status
}

// Page returns a copy of the page with the given id.
func (s *Server) Page(id string) (Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return Page{}, false
	}
	return *p, true
}

// PageByTitle returns a copy of the page with the given title.
func (s *Server) PageByTitle(title string) (Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages {
		if p.Title == title {
			return *p, true
		}
	}
	return Page{}, false
}

// Pages returns copies of all pages ordered by id.
func (s *Server) Pages() []Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

// Attachments returns copies of the attachments of a page.
func (s *Server) Attachments(pageID string) []Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attachment
	for _, a := range s.attachments {
		if a.PageID == pageID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Requests returns the number of requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Mutations returns the number of non-GET requests served.
func (s *Server) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// Uploads returns the number of attachment uploads, new or versioned.
func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// Calls returns "METHOD /path" for every request served, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ResetCounters zeroes the request, mutation and upload counters.
func (s *Server) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests, s.mutations, s.uploads = 0, 0, 0
	s.calls = nil
}

func (s *Server) newID() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func idLess(a, b string) bool {
	ai, _ := strconv.Atoi(a)
	bi, _ := strconv.Atoi(b)
	return ai < bi
}

// store mimics the attributes Confluence adds to macros when it saves a body.
func (s *Server) store(body string) string {
	const open = `<ac:structured-macro `
	var b strings.Builder
	for {
		i := strings.Index(body, open)
		if i < 0 {
			b.WriteString(body)
			return b.String()
		}
		s.macroID++
		b.WriteString(body[:i+len(open)])
		b.WriteString(`ac:schema-version="1" ac:macro-id="m` + strconv.Itoa(s.macroID) + `" `)
		body = body[i+len(open):]
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"statusCode": status, "message": msg})
}
