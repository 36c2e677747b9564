package confluencetest

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 10 << 20

type pageInput struct {
	Title string `json:"title"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Ancestors []struct {
		ID string `json:"id"`
	} `json:"ancestors"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
}

func (in pageInput) parentID() string {
	if len(in.Ancestors) == 0 {
		return ""
	}
	return in.Ancestors[len(in.Ancestors)-1].ID
}

// pageJSON renders a page the way the content endpoints return it with
// version, ancestors, body.storage and metadata.labels expanded. Callers hold mu.
func (s *Server) pageJSON(p *Page) map[string]any {
	var chain []map[string]any
	for id := p.ParentID; id != ""; {
		parent, ok := s.pages[id]
		if !ok {
			break
		}
		chain = append([]map[string]any{{"id": parent.ID, "type": "page", "title": parent.Title}}, chain...)
		id = parent.ParentID
	}
	labels := make([]map[string]string, len(p.Labels))
	for i, l := range p.Labels {
		labels[i] = map[string]string{"prefix": "global", "name": l}
	}
	return map[string]any{
		"id":        p.ID,
		"type":      "page",
		"title":     p.Title,
		"space":     map[string]string{"key": p.Space},
		"version":   map[string]any{"number": p.Version},
		"ancestors": chain,
		"body": map[string]any{
			"storage": map[string]string{"value": p.Body, "representation": "storage"},
		},
		"metadata": map[string]any{
			"labels": map[string]any{"results": labels},
		},
		"_links": map[string]string{
			"webui": "/spaces/" + p.Space + "/pages/" + p.ID,
			"base":  s.URL,
		},
	}
}

func (s *Server) attachmentJSON(a *Attachment) map[string]any {
	props := map[string]any{}
	if p, ok := s.props[a.ID]["hash"]; ok {
		props["hash"] = map[string]any{
			"key":     "hash",
			"value":   p.Value,
			"version": map[string]int{"number": p.Version},
		}
	}
	return map[string]any{
		"id":       a.ID,
		"type":     "attachment",
		"title":    a.Title,
		"version":  map[string]int{"number": a.Versions},
		"metadata": map[string]any{"comment": a.Comment, "properties": props},
	}
}

func (s *Server) findContent(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	space := r.URL.Query().Get("spaceKey")

	s.mu.Lock()
	defer s.mu.Unlock()
	results := []map[string]any{}
	for _, id := range s.sortedIDs() {
		p := s.pages[id]
		if p.Title == title && (space == "" || p.Space == space) {
			results = append(results, s.pageJSON(p))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "size": len(results)})
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "No content found with id")
		return
	}
	writeJSON(w, http.StatusOK, s.pageJSON(p))
}

func (s *Server) createContent(w http.ResponseWriter, r *http.Request) {
	var in pageInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.failTitles[in.Title]; ok {
		writeError(w, status, "injected failure")
		return
	}
	for _, p := range s.pages {
		if p.Title == in.Title && p.Space == in.Space.Key {
			writeError(w, http.StatusBadRequest, "A page with this title already exists")
			return
		}
	}
	parent := in.parentID()
	if _, ok := s.pages[parent]; parent != "" && !ok {
		writeError(w, http.StatusBadRequest, "ancestor not found")
		return
	}

	id := s.newID()
	p := &Page{
		ID:       id,
		Title:    in.Title,
		Space:    in.Space.Key,
		ParentID: parent,
		Version:  1,
		Body:     s.store(in.Body.Storage.Value),
	}
	s.pages[id] = p
	writeJSON(w, http.StatusOK, s.pageJSON(p))
}

func (s *Server) updateContent(w http.ResponseWriter, r *http.Request) {
	var in pageInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "No content found with id")
		return
	}
	if status, ok := s.failTitles[in.Title]; ok {
		writeError(w, status, "injected failure")
		return
	}
	if in.Version.Number != p.Version+1 {
		writeError(w, http.StatusConflict, "Version must be incremented on update")
		return
	}
	p.Title = in.Title
	p.Body = s.store(in.Body.Storage.Value)
	p.Version = in.Version.Number
	if parent := in.parentID(); parent != "" {
		p.ParentID = parent
	}
	writeJSON(w, http.StatusOK, s.pageJSON(p))
}

func (s *Server) deleteContent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := s.pages[id]; !ok {
		writeError(w, http.StatusNotFound, "No content found with id")
		return
	}
	delete(s.pages, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addLabels(w http.ResponseWriter, r *http.Request) {
	var in []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "No content found with id")
		return
	}
	for _, l := range in {
		if !contains(p.Labels, l.Name) {
			p.Labels = append(p.Labels, l.Name)
		}
	}
	results := make([]map[string]string, len(p.Labels))
	for i, l := range p.Labels {
		results[i] = map[string]string{"prefix": "global", "name": l}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) childPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, _ := strconv.Atoi(q.Get("start"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 25
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	parent := chi.URLParam(r, "id")
	if _, ok := s.pages[parent]; !ok {
		writeError(w, http.StatusNotFound, "No content found with id")
		return
	}
	var children []*Page
	for _, id := range s.sortedIDs() {
		if s.pages[id].ParentID == parent {
			children = append(children, s.pages[id])
		}
	}

	results := []map[string]any{}
	for i := start; i < len(children) && i < start+limit; i++ {
		results = append(results, s.pageJSON(children[i]))
	}
	links := map[string]string{}
	if start+limit < len(children) {
		links["next"] = r.URL.Path + "?start=" + strconv.Itoa(start+limit) + "&limit=" + strconv.Itoa(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"start":   start,
		"limit":   limit,
		"size":    len(results),
		"_links":  links,
	})
}

func (s *Server) listAttachments(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")

	s.mu.Lock()
	defer s.mu.Unlock()
	pageID := chi.URLParam(r, "id")
	results := []map[string]any{}
	for _, a := range s.attachments {
		if a.PageID == pageID && (filename == "" || a.Title == filename) {
			results = append(results, s.attachmentJSON(a))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "size": len(results)})
}

// readUpload parses the multipart upload the way the attachment endpoints
// require it: token header, "file" part and optional "comment".
func readUpload(w http.ResponseWriter, r *http.Request) (name, comment string, data []byte, ok bool) {
	if r.Header.Get("X-Atlassian-Token") != "no-check" {
		writeError(w, http.StatusForbidden, "XSRF check failed")
		return "", "", nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart")
		return "", "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' field in multipart form")
		return "", "", nil, false
	}
	defer func() { _ = file.Close() }()
	data, err = io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file")
		return "", "", nil, false
	}
	return header.Filename, r.FormValue("comment"), data, true
}

func (s *Server) createAttachment(w http.ResponseWriter, r *http.Request) {
	name, comment, data, ok := readUpload(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pageID := chi.URLParam(r, "id")
	if _, ok := s.pages[pageID]; !ok {
		writeError(w, http.StatusNotFound, "No content found with id")
		return
	}
	for _, a := range s.attachments {
		if a.PageID == pageID && a.Title == name {
			writeError(w, http.StatusBadRequest, "Cannot add a new attachment with same file name as an existing attachment")
			return
		}
	}
	a := &Attachment{ID: "att" + s.newID(), PageID: pageID, Title: name, Comment: comment, Data: data, Versions: 1}
	s.attachments[a.ID] = a
	s.uploads++
	writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{s.attachmentJSON(a)}, "size": 1})
}

func (s *Server) updateAttachmentData(w http.ResponseWriter, r *http.Request) {
	_, comment, data, ok := readUpload(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attachments[chi.URLParam(r, "attID")]
	if !ok || a.PageID != chi.URLParam(r, "id") {
		writeError(w, http.StatusNotFound, "No attachment found")
		return
	}
	a.Data = data
	a.Comment = comment
	a.Versions++
	s.uploads++
	writeJSON(w, http.StatusOK, s.attachmentJSON(a))
}

type propertyBody struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
}

func (s *Server) getProperty(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chi.URLParam(r, "key")
	p, ok := s.props[chi.URLParam(r, "id")][key]
	if !ok {
		writeError(w, http.StatusNotFound, "property not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"value":   p.Value,
		"version": map[string]int{"number": p.Version},
	})
}

func (s *Server) createProperty(w http.ResponseWriter, r *http.Request) {
	var in propertyBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Key == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	if !s.contentExists(id) {
		writeError(w, http.StatusNotFound, "No content found with id")
		return
	}
	if _, ok := s.props[id][in.Key]; ok {
		writeError(w, http.StatusConflict, "property already exists")
		return
	}
	if s.props[id] == nil {
		s.props[id] = make(map[string]*property)
	}
	s.props[id][in.Key] = &property{Value: in.Value, Version: 1}
	writeJSON(w, http.StatusOK, map[string]any{"key": in.Key, "value": in.Value, "version": map[string]int{"number": 1}})
}

func (s *Server) updateProperty(w http.ResponseWriter, r *http.Request) {
	var in propertyBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := chi.URLParam(r, "key")
	p, ok := s.props[chi.URLParam(r, "id")][key]
	if !ok {
		writeError(w, http.StatusNotFound, "property not found")
		return
	}
	if in.Version.Number != p.Version+1 {
		writeError(w, http.StatusConflict, "Version must be incremented on update")
		return
	}
	p.Value = in.Value
	p.Version = in.Version.Number
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": p.Value, "version": map[string]int{"number": p.Version}})
}

func (s *Server) contentExists(id string) bool {
	if _, ok := s.pages[id]; ok {
		return true
	}
	_, ok := s.attachments[id]
	return ok
}

func (s *Server) sortedIDs() []string {
	ids := make([]string, 0, len(s.pages))
	for id := range s.pages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	return ids
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
