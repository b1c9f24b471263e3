package mailutil

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	cidRE       = regexp.MustCompile(`(?i)cid:(<|%3C)?([^"'\s)<>]+?)(>|%3E)?(["'\s)>]|$)`)
	linkTarget  = regexp.MustCompile(`^_(blank|self|parent|top)$`)
	lineBreakRE = regexp.MustCompile(`\r\n|\r|\n`)
	policy      = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowURLSchemes("http", "https", "mailto", "tel", "cid")
	p.AllowDataURIImages()
	p.AllowAttrs("target").Matching(linkTarget).OnElements("a")
	p.AllowAttrs("width", "height", "align", "valign", "bgcolor", "border", "cellpadding", "cellspacing").
		OnElements("table", "tr", "td", "th", "img")
	p.AllowElements("center", "font")
	p.AllowAttrs("color", "face", "size").OnElements("font")
	return p
}

// Sanitize strips scripts, event handlers and disallowed URL schemes from
// provider HTML.
func Sanitize(body string) string {
	return policy.Sanitize(body)
}

// PlainTextToHTML escapes &, < and > and turns line breaks into <br>.
func PlainTextToHTML(text string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(text)
	return lineBreakRE.ReplaceAllString(escaped, "<br>")
}

// NormalizeContentID lowercases a Content-ID and strips its angle brackets.
func NormalizeContentID(id string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(id), "<>"))
}

// AttachmentURL is the download endpoint a rewritten cid: reference points at.
func AttachmentURL(base, service, messageID, attachmentID string) string {
	q := url.Values{}
	q.Set("service", service)
	q.Set("messageId", messageID)
	q.Set("attachmentId", attachmentID)
	return strings.TrimRight(base, "/") + "/email/attachment?" + q.Encode()
}

// RewriteInlineImages replaces cid: references whose content id is present
// in urls (keyed by NormalizeContentID) with the mapped URL. Unknown ids are
// left untouched.
func RewriteInlineImages(body string, urls map[string]string) string {
	if len(urls) == 0 || !strings.Contains(strings.ToLower(body), "cid:") {
		return body
	}
	return cidRE.ReplaceAllStringFunc(body, func(match string) string {
		m := cidRE.FindStringSubmatch(match)
		target, ok := urls[NormalizeContentID(m[2])]
		if !ok {
			return match
		}
		return html.EscapeString(target) + m[4]
	})
}
