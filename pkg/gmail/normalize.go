package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	emaildomain "maildash-backend/internal/email/domain"
	"maildash-backend/pkg/mailutil"

	"google.golang.org/api/gmail/v1"
)

// MaxPartDepth bounds the MIME tree walk. Deeper parts are ignored.
const MaxPartDepth = 32

type partScan struct {
	html        string
	plain       string
	hasHTML     bool
	hasPlain    bool
	attachments []emaildomain.Attachment
}

// NormalizeList converts a message into a list row.
func NormalizeList(msg *gmail.Message) *emaildomain.EmailItem {
	item := &emaildomain.EmailItem{
		ID:      msg.Id,
		Snippet: msg.Snippet,
		Date:    messageDate(msg),
		Service: authdomain.ProviderGmail,
	}
	if msg.Payload == nil {
		return item
	}
	item.From = mailutil.DecodeHeader(getHeader(msg.Payload.Headers, "From"))
	item.Subject = mailutil.DecodeHeader(getHeader(msg.Payload.Headers, "Subject"))

	var scan partScan
	scanParts(msg.Payload, 0, &scan)
	item.HasAttachments = len(scan.attachments) > 0
	return item
}

// NormalizeDetail converts a full-format message into sanitized content.
// attachmentBase prefixes the download URLs used for inline images.
func NormalizeDetail(msg *gmail.Message, attachmentBase string) *emaildomain.EmailContent {
	content := &emaildomain.EmailContent{
		ID:          msg.Id,
		Date:        messageDate(msg),
		To:          []emaildomain.Address{},
		Cc:          []emaildomain.Address{},
		Bcc:         []emaildomain.Address{},
		ReplyTo:     []emaildomain.Address{},
		Attachments: []emaildomain.Attachment{},
		ContentType: "text/html",
		Service:     authdomain.ProviderGmail,
	}
	if msg.Payload == nil {
		return content
	}

	headers := msg.Payload.Headers
	content.Subject = mailutil.DecodeHeader(getHeader(headers, "Subject"))
	content.From = mailutil.DecodeHeader(getHeader(headers, "From"))
	if addr, ok := mailutil.ParseAddress(content.From); ok {
		content.FromAddress = addr.Email
	}
	content.To = mailutil.ParseAddressList(getHeader(headers, "To"))
	content.Cc = mailutil.ParseAddressList(getHeader(headers, "Cc"))
	content.Bcc = mailutil.ParseAddressList(getHeader(headers, "Bcc"))
	content.ReplyTo = mailutil.ParseAddressList(getHeader(headers, "Reply-To"))

	var scan partScan
	scanParts(msg.Payload, 0, &scan)
	if scan.attachments != nil {
		content.Attachments = scan.attachments
	}

	switch {
	case scan.hasHTML:
		urls := make(map[string]string)
		for _, a := range scan.attachments {
			if a.ContentID != "" {
				urls[mailutil.NormalizeContentID(a.ContentID)] = mailutil.AttachmentURL(attachmentBase, string(authdomain.ProviderGmail), msg.Id, a.ID)
			}
		}
		content.Body = mailutil.Sanitize(mailutil.RewriteInlineImages(scan.html, urls))
	case scan.hasPlain:
		content.Body = mailutil.PlainTextToHTML(scan.plain)
		content.ContentType = "text/plain"
	}
	return content
}

// scanParts walks the tree depth first. The first text/html and the first
// text/plain part carrying inline data win; parts with both a filename and
// an attachment id are collected as attachments.
func scanParts(part *gmail.MessagePart, depth int, scan *partScan) {
	if part == nil || depth > MaxPartDepth {
		return
	}

	mimeType := strings.ToLower(part.MimeType)
	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		switch {
		case mimeType == "text/html" && !scan.hasHTML:
			if data, err := decodeBase64URL(part.Body.Data); err == nil {
				scan.html, scan.hasHTML = string(data), true
			}
		case mimeType == "text/plain" && !scan.hasPlain:
			if data, err := decodeBase64URL(part.Body.Data); err == nil {
				scan.plain, scan.hasPlain = string(data), true
			}
		}
	}

	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		contentID := strings.Trim(strings.TrimSpace(getHeader(part.Headers, "Content-ID")), "<>")
		scan.attachments = append(scan.attachments, emaildomain.Attachment{
			ID:          part.Body.AttachmentId,
			Name:        mailutil.DecodeHeader(part.Filename),
			ContentType: part.MimeType,
			Size:        part.Body.Size,
			IsInline:    contentID != "",
			ContentID:   contentID,
		})
	}

	for _, child := range part.Parts {
		scanParts(child, depth+1, scan)
	}
}

// findAttachmentPart returns the part carrying attachmentID, if any.
func findAttachmentPart(part *gmail.MessagePart, attachmentID string, depth int) *gmail.MessagePart {
	if part == nil || depth > MaxPartDepth {
		return nil
	}
	if part.Body != nil && part.Body.AttachmentId == attachmentID {
		return part
	}
	for _, child := range part.Parts {
		if found := findAttachmentPart(child, attachmentID, depth+1); found != nil {
			return found
		}
	}
	return nil
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func messageDate(msg *gmail.Message) time.Time {
	if msg.InternalDate > 0 {
		return time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		if t, err := parseDateHeader(getHeader(msg.Payload.Headers, "Date")); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseDateHeader(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, " ("); i > 0 {
		v = v[:i]
	}
	var err error
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700", "2 Jan 2006 15:04:05 -0700"} {
		var t time.Time
		if t, err = time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// decodeBase64URL accepts padded and unpadded base64url as Gmail returns both.
func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return data, nil
}
