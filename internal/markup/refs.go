package markup

import (
	"html"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/starford/md2conf/internal/checksum"
	"github.com/starford/md2conf/internal/models"
)

var (
	reImage  = regexp.MustCompile(`<img\s([^>]*?)\s*/?>`)
	reLink   = regexp.MustCompile(`(?s)<a\s([^>]*)>(.*?)</a>`)
	reAttr   = regexp.MustCompile(`([a-zA-Z_:][-a-zA-Z0-9_:.]*)="([^"]*)"`)
	reScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
)

// refRewriter rewrites local image and page references of one document.
type refRewriter struct {
	docPath     string
	titles      TitleResolver
	attachments []models.Attachment
	names       map[string]string // local path -> attachment name
	owners      map[string]string // attachment name -> local path
}

func (r *refRewriter) images(s string) string {
	return reImage.ReplaceAllStringFunc(s, func(m string) string {
		attrs := parseAttrs(reImage.FindStringSubmatch(m)[1])
		local, ok := r.localPath(attrs["src"])
		if !ok {
			return m
		}
		alt := attrs["alt"]
		name := r.addAttachment(local, alt)
		return `<ac:image ac:alt="` + escapeText(alt) + `"><ri:attachment ri:filename="` +
			escapeText(name) + `" /></ac:image>`
	})
}

// addAttachment records an image once per file and returns its attachment
// name. The first file keeps its base name; a different file with the same
// base name gets a prefix derived from its path relative to the document.
func (r *refRewriter) addAttachment(path, alt string) string {
	if r.names == nil {
		r.names = make(map[string]string)
		r.owners = make(map[string]string)
	}
	if name, ok := r.names[path]; ok {
		return name
	}
	name := filepath.Base(path)
	if _, taken := r.owners[name]; taken {
		rel, err := filepath.Rel(filepath.Dir(r.docPath), path)
		if err != nil {
			rel = path
		}
		name = checksum.Sum([]byte(filepath.ToSlash(rel)))[:8] + "_" + name
	}
	r.names[path] = name
	r.owners[name] = path
	r.attachments = append(r.attachments, models.Attachment{Path: path, Filename: name, Comment: alt})
	return name
}

func (r *refRewriter) links(s string) string {
	if r.titles == nil {
		return s
	}
	return reLink.ReplaceAllStringFunc(s, func(m string) string {
		sub := reLink.FindStringSubmatch(m)
		href := parseAttrs(sub[1])["href"]
		target, anchor, _ := strings.Cut(href, "#")
		if !strings.EqualFold(filepath.Ext(target), ".md") {
			return m
		}
		local, ok := r.localPath(target)
		if !ok {
			return m
		}
		title, ok := r.titles.TitleFor(local)
		if !ok {
			return m
		}
		var b strings.Builder
		b.WriteString("<ac:link")
		if anchor != "" {
			b.WriteString(` ac:anchor="` + escapeText(anchor) + `"`)
		}
		b.WriteString(`><ri:page ri:content-title="` + escapeText(title) + `" />`)
		b.WriteString("<ac:link-body>" + sub[2] + "</ac:link-body></ac:link>")
		return b.String()
	})
}

// localPath resolves a relative reference against the document folder.
// Absolute URLs, absolute paths and fragments are not local.
func (r *refRewriter) localPath(ref string) (string, bool) {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "/") ||
		strings.HasPrefix(ref, "//") || reScheme.MatchString(ref) {
		return "", false
	}
	ref, _, _ = strings.Cut(ref, "?")
	if p, err := url.PathUnescape(ref); err == nil {
		ref = p
	}
	return filepath.Join(filepath.Dir(r.docPath), filepath.FromSlash(ref)), true
}

func parseAttrs(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range reAttr.FindAllStringSubmatch(s, -1) {
		out[strings.ToLower(m[1])] = html.UnescapeString(m[2])
	}
	return out
}
