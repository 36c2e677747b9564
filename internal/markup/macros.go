package markup

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	codeTheme = "Midnight"

	tocMacro = `<ac:structured-macro ac:name="toc">` +
		`<ac:parameter ac:name="printable">true</ac:parameter>` +
		`<ac:parameter ac:name="style">disc</ac:parameter>` +
		`<ac:parameter ac:name="maxLevel">7</ac:parameter>` +
		`<ac:parameter ac:name="minLevel">1</ac:parameter>` +
		`<ac:parameter ac:name="type">list</ac:parameter>` +
		`<ac:parameter ac:name="outline">clear</ac:parameter>` +
		`<ac:parameter ac:name="include">.*</ac:parameter>` +
		`</ac:structured-macro>`

	contentsMacro = `<ac:structured-macro ac:name="toc">` +
		`<ac:parameter ac:name="printable">true</ac:parameter>` +
		`<ac:parameter ac:name="style">disc</ac:parameter>` +
		`<ac:parameter ac:name="maxLevel">5</ac:parameter>` +
		`<ac:parameter ac:name="minLevel">1</ac:parameter>` +
		`<ac:parameter ac:name="class">rm-contents</ac:parameter>` +
		`<ac:parameter ac:name="exclude"></ac:parameter>` +
		`<ac:parameter ac:name="type">list</ac:parameter>` +
		`<ac:parameter ac:name="outline">false</ac:parameter>` +
		`<ac:parameter ac:name="include"></ac:parameter>` +
		`</ac:structured-macro>`
)

// admonition wraps body in an info, note or warning macro.
func admonition(kind, body string) string {
	return `<ac:structured-macro ac:name="` + kind + `"><ac:rich-text-body>` +
		body + `</ac:rich-text-body></ac:structured-macro>`
}

// Paragraph text may hold inline tags but never a closing </p>.
const inlineContent = `((?:[^<]|<[^/]|</[^p])*?)`

var sigils = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`(?s)<p>~\?` + inlineContent + `\?~</p>`), "info"},
	{regexp.MustCompile(`(?s)<p>~!` + inlineContent + `!~</p>`), "note"},
	{regexp.MustCompile(`(?s)<p>~%` + inlineContent + `%~</p>`), "warning"},
}

func convertSigils(s string) string {
	for _, sg := range sigils {
		s = sg.re.ReplaceAllStringFunc(s, func(m string) string {
			inner := sg.re.FindStringSubmatch(m)[1]
			return admonition(sg.kind, "<p>"+strings.TrimSpace(inner)+"</p>")
		})
	}
	return s
}

var (
	reQuoteKind = regexp.MustCompile(`(?is)^<p>\s*(?:<(?:strong|em)>\s*)?(note|warning)\b`)

	// Keyword wrapped in emphasis: **Note:** text, **Note**: text.
	reQuoteEmphasized = regexp.MustCompile(`(?is)^<p>\s*<(?:strong|em)>\s*(?:note|warning)\s*:?\s*</(?:strong|em)>\s*:?\s*`)
	// Emphasis that continues past the keyword: **Note: text**.
	reQuoteLeadingEmphasis = regexp.MustCompile(`(?is)^<p>\s*<(strong|em)>\s*(?:note|warning)\s*:\s*`)
	// Plain keyword: Note: text.
	reQuotePlain = regexp.MustCompile(`(?is)^<p>\s*(?:note|warning)\s*:\s*`)
)

const (
	openQuote  = "<blockquote>"
	closeQuote = "</blockquote>"
)

// convertBlockquotes turns every blockquote into an admonition macro,
// innermost quotes first.
func convertBlockquotes(s string) string {
	from := 0
	for {
		end := strings.Index(s[from:], closeQuote)
		if end < 0 {
			return s
		}
		end += from
		start := strings.LastIndex(s[:end], openQuote)
		if start < 0 {
			from = end + len(closeQuote)
			continue
		}
		inner := s[start+len(openQuote) : end]
		repl := quoteMacro(inner)
		s = s[:start] + repl + s[end+len(closeQuote):]
		from = start
	}
}

func quoteMacro(inner string) string {
	inner = strings.TrimSpace(inner)
	kind := "info"
	if m := reQuoteKind.FindStringSubmatch(inner); m != nil {
		kind = strings.ToLower(m[1])
		inner = stripQuoteKeyword(inner)
	}
	return admonition(kind, inner)
}

// stripQuoteKeyword drops the leading Note/Warning keyword and capitalizes
// the text that follows it.
func stripQuoteKeyword(inner string) string {
	if loc := reQuoteEmphasized.FindStringIndex(inner); loc != nil {
		return "<p>" + upperFirst(inner[loc[1]:])
	}
	if m := reQuoteLeadingEmphasis.FindStringSubmatchIndex(inner); m != nil {
		tag := inner[m[2]:m[3]]
		return "<p><" + tag + ">" + upperFirst(inner[m[1]:])
	}
	if loc := reQuotePlain.FindStringIndex(inner); loc != nil {
		return "<p>" + upperFirst(inner[loc[1]:])
	}
	return inner
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

var reDoctoc = regexp.MustCompile(`(?s)<!--\s*START doctoc.*?END doctoc.*?-->`)

func convertDoctoc(s string) string {
	return reDoctoc.ReplaceAllLiteralString(s, tocMacro)
}

var reComment = regexp.MustCompile(`(?s)<!--(.*?)-->`)

func convertComments(s string) string {
	return reComment.ReplaceAllString(s, "<ac:placeholder>$1</ac:placeholder>")
}

var reCodeBlock = regexp.MustCompile(`(?s)<pre><code(?: class="language-([^"]*)")?>(.*?)</code></pre>`)

func convertCodeBlocks(s string) string {
	return reCodeBlock.ReplaceAllStringFunc(s, func(m string) string {
		sub := reCodeBlock.FindStringSubmatch(m)
		lang := html.UnescapeString(sub[1])
		if lang == "" {
			lang = "none"
		}
		code := strings.TrimSuffix(html.UnescapeString(sub[2]), "\n")
		return codeMacro(lang, code)
	})
}

func codeMacro(lang, code string) string {
	var b strings.Builder
	b.WriteString(`<ac:structured-macro ac:name="code">`)
	b.WriteString(`<ac:parameter ac:name="theme">` + codeTheme + `</ac:parameter>`)
	b.WriteString(`<ac:parameter ac:name="linenumbers">true</ac:parameter>`)
	b.WriteString(`<ac:parameter ac:name="language">` + escapeText(lang) + `</ac:parameter>`)
	b.WriteString(`<ac:plain-text-body><![CDATA[`)
	b.WriteString(strings.ReplaceAll(code, "]]>", "]]]]><![CDATA[>"))
	b.WriteString(`]]></ac:plain-text-body></ac:structured-macro>`)
	return b.String()
}

func escapeText(s string) string {
	return html.EscapeString(s)
}
