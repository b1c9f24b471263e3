package mailutil

import (
	"testing"

	emaildomain "maildash-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
)

func TestPlainTextToHTML(t *testing.T) {
	assert.Equal(t, "a<br>b", PlainTextToHTML("a\nb"))
	assert.Equal(t, "x &lt;y&gt; &amp; z<br>", PlainTextToHTML("x <y> & z\r\n"))
}

func TestRewriteInlineImages(t *testing.T) {
	urls := map[string]string{
		"img1":             "/email/attachment?service=gmail&messageId=m1&attachmentId=a1",
		"logo@example.com": "/email/attachment?service=outlook&messageId=m2&attachmentId=a2",
	}

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"quoted", `<img src="cid:img1">`, `<img src="/email/attachment?service=gmail&amp;messageId=m1&amp;attachmentId=a1">`},
		{"case insensitive", `<img src="CID:IMG1">`, `<img src="/email/attachment?service=gmail&amp;messageId=m1&amp;attachmentId=a1">`},
		{"angle brackets", `<img src='cid:<logo@example.com>'>`, `<img src='/email/attachment?service=outlook&amp;messageId=m2&amp;attachmentId=a2'>`},
		{"css url", `background:url(cid:img1)`, `background:url(/email/attachment?service=gmail&amp;messageId=m1&amp;attachmentId=a1)`},
		{"unknown kept", `<img src="cid:other">`, `<img src="cid:other">`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RewriteInlineImages(tc.in, urls))
		})
	}
}

func TestSanitize(t *testing.T) {
	out := Sanitize(`<p onclick="steal()">hi<script>alert(1)</script></p>` +
		`<a href="javascript:alert(1)">x</a>` +
		`<a href="https://example.com" target="_blank">ok</a>` +
		`<a href="mailto:a@b.c">m</a><a href="tel:+123">t</a>` +
		`<img src="cid:img1"><img src="data:image/png;base64,iVBORw0KGgo=">`)

	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "javascript:")
	assert.Contains(t, out, `href="https://example.com"`)
	assert.Contains(t, out, `target="_blank"`)
	assert.Contains(t, out, `href="mailto:a@b.c"`)
	assert.Contains(t, out, `href="tel:+123"`)
	assert.Contains(t, out, `src="cid:img1"`)
	assert.Contains(t, out, `src="data:image/png;base64,iVBORw0KGgo="`)
}

func TestSanitizeRejectsBadTarget(t *testing.T) {
	out := Sanitize(`<a href="https://example.com" target="evil">x</a>`)
	assert.NotContains(t, out, "evil")
}

func TestAttachmentURL(t *testing.T) {
	assert.Equal(t,
		"https://api.example.com/email/attachment?attachmentId=a+1&messageId=m%2F1&service=gmail",
		AttachmentURL("https://api.example.com/", "gmail", "m/1", "a 1"))
}

func TestParseAddressList(t *testing.T) {
	got := ParseAddressList(`"Doe, Jane" <jane@example.com>, bob@example.com; Alice <alice@example.org>`)
	assert.Equal(t, []emaildomain.Address{
		{Name: "Doe, Jane", Email: "jane@example.com"},
		{Email: "bob@example.com"},
		{Name: "Alice", Email: "alice@example.org"},
	}, got)
}

func TestParseAddressListDegrades(t *testing.T) {
	for _, in := range []string{"", "undisclosed-recipients:;", "<<<>>>", "not an address at all"} {
		got := ParseAddressList(in)
		assert.NotNil(t, got)
		assert.Empty(t, got, in)
	}
}

func TestParseAddressListSkipsBadEntries(t *testing.T) {
	got := ParseAddressList(`garbage, <ok@example.com>`)
	assert.Equal(t, []emaildomain.Address{{Email: "ok@example.com"}}, got)
}

func TestDecodeHeader(t *testing.T) {
	assert.Equal(t, "Café", DecodeHeader("=?UTF-8?Q?Caf=C3=A9?="))
	assert.Equal(t, "Привет", DecodeHeader("=?koi8-r?B?8NLJ18XU?="))
	assert.Equal(t, "plain", DecodeHeader("plain"))
	assert.Equal(t, "=?bogus", DecodeHeader("=?bogus"))

	addr, ok := ParseAddress("=?UTF-8?Q?Ren=C3=A9?= <rene@example.fr>")
	assert.True(t, ok)
	assert.Equal(t, "René", addr.Name)
}
