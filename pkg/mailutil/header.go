// Package mailutil holds the provider-independent parts of message
// normalization: header decoding, address parsing, inline image rewriting
// and HTML sanitizing.
package mailutil

import (
	"mime"
	"regexp"
	"strings"

	emaildomain "maildash-backend/internal/email/domain"

	"github.com/emersion/go-message/charset"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader decodes RFC 2047 encoded words. Undecodable input is returned as is.
func DecodeHeader(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

var (
	namedAddrRE = regexp.MustCompile(`^\s*(?:"((?:[^"\\]|\\.)*)"|([^"<>]*?))\s*<\s*([^<>\s@]+@[^<>\s@]+)\s*>\s*$`)
	bareAddrRE  = regexp.MustCompile(`^\s*<?\s*([^<>\s@",;]+@[^<>\s@",;]+?)\s*>?\s*$`)
)

// ParseAddressList parses a To/Cc/From style header. Entries that do not
// look like addresses are dropped, so garbage input yields an empty list.
func ParseAddressList(header string) []emaildomain.Address {
	out := []emaildomain.Address{}
	for _, part := range splitAddresses(DecodeHeader(header)) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if m := namedAddrRE.FindStringSubmatch(part); m != nil {
			name := m[2]
			if m[1] != "" {
				name = strings.ReplaceAll(m[1], `\"`, `"`)
			}
			out = append(out, emaildomain.Address{Name: strings.TrimSpace(name), Email: m[3]})
			continue
		}
		if m := bareAddrRE.FindStringSubmatch(part); m != nil {
			out = append(out, emaildomain.Address{Email: m[1]})
		}
	}
	return out
}

// ParseAddress returns the first address in header, if any.
func ParseAddress(header string) (emaildomain.Address, bool) {
	list := ParseAddressList(header)
	if len(list) == 0 {
		return emaildomain.Address{}, false
	}
	return list[0], true
}

// splitAddresses splits on ',' and ';' outside quotes and angle brackets.
func splitAddresses(s string) []string {
	var (
		parts   []string
		buf     strings.Builder
		inQuote bool
		escaped bool
		depth   int
	)
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case r == '<' && !inQuote:
			depth++
		case r == '>' && !inQuote && depth > 0:
			depth--
		case (r == ',' || r == ';') && !inQuote && depth == 0:
			parts = append(parts, buf.String())
			buf.Reset()
			continue
		}
		buf.WriteRune(r)
	}
	return append(parts, buf.String())
}
