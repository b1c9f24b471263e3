package outlook

import (
	"strings"

	authdomain "maildash-backend/internal/auth/domain"
	emaildomain "maildash-backend/internal/email/domain"
	"maildash-backend/pkg/mailutil"
)

func normalizeList(msg *graphMessage) *emaildomain.EmailItem {
	return &emaildomain.EmailItem{
		ID:             msg.ID,
		Snippet:        msg.BodyPreview,
		From:           formatRecipient(msg.From),
		Subject:        msg.Subject,
		Date:           msg.ReceivedDateTime.UTC(),
		HasAttachments: msg.HasAttachments,
		Service:        authdomain.ProviderOutlook,
	}
}

// normalizeDetail maps a Graph message (with $expand=attachments) into
// sanitized content. Outlook bodies are flat: body.contentType is html or text.
func normalizeDetail(msg *graphMessage, attachmentBase string) *emaildomain.EmailContent {
	content := &emaildomain.EmailContent{
		ID:          msg.ID,
		Subject:     msg.Subject,
		From:        formatRecipient(msg.From),
		To:          toAddresses(msg.ToRecipients),
		Cc:          toAddresses(msg.CcRecipients),
		Bcc:         toAddresses(msg.BccRecipients),
		ReplyTo:     toAddresses(msg.ReplyTo),
		Date:        msg.ReceivedDateTime.UTC(),
		ContentType: "text/html",
		Attachments: make([]emaildomain.Attachment, 0, len(msg.Attachments)),
		Service:     authdomain.ProviderOutlook,
	}
	if msg.From != nil {
		content.FromAddress = msg.From.EmailAddress.Address
	}

	urls := make(map[string]string)
	for _, a := range msg.Attachments {
		att := emaildomain.Attachment{
			ID:          a.ID,
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			ContentID:   strings.Trim(strings.TrimSpace(a.ContentID), "<>"),
		}
		att.IsInline = a.IsInline || att.ContentID != ""
		if att.ContentID != "" {
			urls[mailutil.NormalizeContentID(att.ContentID)] = mailutil.AttachmentURL(attachmentBase, string(authdomain.ProviderOutlook), msg.ID, a.ID)
		}
		content.Attachments = append(content.Attachments, att)
	}

	if msg.Body == nil {
		return content
	}
	if strings.EqualFold(msg.Body.ContentType, "html") {
		content.Body = mailutil.Sanitize(mailutil.RewriteInlineImages(msg.Body.Content, urls))
	} else {
		content.Body = mailutil.PlainTextToHTML(msg.Body.Content)
		content.ContentType = "text/plain"
	}
	return content
}

func formatRecipient(r *graphRecipient) string {
	if r == nil {
		return ""
	}
	switch {
	case r.EmailAddress.Name != "" && r.EmailAddress.Address != "" && r.EmailAddress.Name != r.EmailAddress.Address:
		return r.EmailAddress.Name + " <" + r.EmailAddress.Address + ">"
	case r.EmailAddress.Address != "":
		return r.EmailAddress.Address
	}
	return r.EmailAddress.Name
}

func toAddresses(rs []graphRecipient) []emaildomain.Address {
	out := make([]emaildomain.Address, 0, len(rs))
	for _, r := range rs {
		if r.EmailAddress.Address == "" {
			continue
		}
		out = append(out, emaildomain.Address{Name: r.EmailAddress.Name, Email: r.EmailAddress.Address})
	}
	return out
}
