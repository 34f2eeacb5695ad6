package mime

import (
	"bytes"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/mailroomlabs/mailroom/store"
	"github.com/mailroomlabs/mailroom/utils"
)

// unknownAddress is the sentinel used when an address header is missing
// or unparseable. Individual bad values never fail the whole message.
var unknownAddress = store.EmailAddress{Email: "unknown@example.com", Name: "Unknown"}

// AttachmentPart is an attachment extracted from a MIME part, prior to
// persistence through the attachment store.
type AttachmentPart struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
}

// ReadBytes returns the decoded attachment bytes. It satisfies the
// delivery.Source interface so MIME-derived parts and freshly uploaded
// files persist through the same path.
func (a AttachmentPart) ReadBytes() ([]byte, error) {
	return a.Data, nil
}

// Name returns the attachment's declared filename.
func (a AttachmentPart) Name() string { return a.Filename }

// MediaType returns the attachment's declared content type.
func (a AttachmentPart) MediaType() string { return a.ContentType }

// ParsedMessage is the decomposed form of one received message. It is
// ephemeral: it exists only for the duration of the delivery pipeline.
type ParsedMessage struct {
	Subject     string
	Body        string
	HTMLBody    string
	From        store.EmailAddress
	To          []store.EmailAddress
	Cc          []store.EmailAddress
	Date        time.Time
	Attachments []AttachmentPart
}

// attachmentMajorTypes are the media major types eligible for
// attachment extraction when a filename is declared.
var attachmentMajorTypes = []string{"image/", "application/", "audio/", "video/"}

// Decompose parses a raw message blob into its delivery form. It never
// fails: unparseable input degrades to a plain-body message with
// sentinel headers, and receivedAt backs any missing or bad Date.
func Decompose(raw []byte, receivedAt time.Time) *ParsedMessage {
	pm := &ParsedMessage{
		Subject: "No Subject",
		From:    unknownAddress,
		Date:    receivedAt,
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		// No parseable header section: the whole blob is the body.
		pm.Body = string(raw)
		return pm
	}

	if subject := strings.TrimSpace(msg.Header.Get("Subject")); subject != "" {
		pm.Subject = subject
	}
	pm.From = parseAddress(msg.Header.Get("From"))
	pm.To = parseAddressList(msg.Header.Get("To"))
	pm.Cc = parseAddressList(msg.Header.Get("Cc"))
	if date, err := msg.Header.Date(); err == nil {
		pm.Date = date
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil && len(body) == 0 {
		return pm
	}

	root, err := Parse(msg.Header, body)
	if err != nil {
		pm.Body = string(decodeBody(transferEncoding(msg.Header), body))
		return pm
	}

	if root.IsMultipart() {
		pm.collect(root)
	} else {
		pm.Body = string(root.DecodedBody())
	}
	return pm
}

// collect walks a part tree, filling body, HTML body and attachments.
// The first text/plain and first text/html parts win; later duplicates
// are ignored.
func (pm *ParsedMessage) collect(part *Part) {
	for _, child := range part.Parts {
		if child.IsMultipart() {
			pm.collect(child)
			continue
		}

		switch {
		case child.ContentType == "text/plain" && child.Filename == "" && pm.Body == "":
			pm.Body = string(child.DecodedBody())
		case child.ContentType == "text/html" && child.Filename == "" && pm.HTMLBody == "":
			pm.HTMLBody = string(child.DecodedBody())
		case isAttachment(child):
			data := child.DecodedBody()
			pm.Attachments = append(pm.Attachments, AttachmentPart{
				ID:          utils.GenerateID(),
				Filename:    child.Filename,
				ContentType: child.ContentType,
				Data:        data,
				Size:        int64(len(data)),
			})
		}
	}
}

// isAttachment reports whether a part is an attachment candidate: a
// declared filename with one of the attachment-eligible major types.
func isAttachment(part *Part) bool {
	if part.Filename == "" {
		return false
	}
	for _, major := range attachmentMajorTypes {
		if strings.HasPrefix(part.ContentType, major) {
			return true
		}
	}
	return false
}

// transferEncoding reads the top-level Content-Transfer-Encoding.
func transferEncoding(headers HeaderGetter) TransferEncoding {
	cte := strings.ToLower(strings.TrimSpace(headers.Get("Content-Transfer-Encoding")))
	if cte == "" {
		return Encoding7Bit
	}
	return TransferEncoding(cte)
}

// parseAddress parses one address header value, supporting both
// `"Name" <email>` and bare `email` forms. Empty or invalid values
// yield the sentinel unknown address.
func parseAddress(value string) store.EmailAddress {
	value = strings.TrimSpace(value)
	if value == "" {
		return unknownAddress
	}

	if addr, err := mail.ParseAddress(value); err == nil {
		name := addr.Name
		if name == "" {
			name = localPart(addr.Address)
		}
		return store.EmailAddress{Email: addr.Address, Name: name}
	}

	// Manual fallback for values net/mail rejects.
	if start := strings.IndexByte(value, '<'); start >= 0 {
		if end := strings.IndexByte(value[start:], '>'); end > 1 {
			email := strings.TrimSpace(value[start+1 : start+end])
			name := strings.Trim(strings.TrimSpace(value[:start]), `"`)
			if email != "" && strings.Contains(email, "@") {
				if name == "" {
					name = localPart(email)
				}
				return store.EmailAddress{Email: email, Name: name}
			}
		}
	}
	if strings.Contains(value, "@") {
		return store.EmailAddress{Email: value, Name: localPart(value)}
	}
	return unknownAddress
}

// parseAddressList parses a comma-separated address header. Individual
// invalid entries are skipped; a wholly unparseable value falls back to
// a naive comma split.
func parseAddressList(value string) []store.EmailAddress {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if addrs, err := mail.ParseAddressList(value); err == nil {
		out := make([]store.EmailAddress, 0, len(addrs))
		for _, addr := range addrs {
			name := addr.Name
			if name == "" {
				name = localPart(addr.Address)
			}
			out = append(out, store.EmailAddress{Email: addr.Address, Name: name})
		}
		return out
	}

	var out []store.EmailAddress
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if addr := parseAddress(part); addr != unknownAddress {
			out = append(out, addr)
		}
	}
	return out
}

// localPart returns the portion of an address before the @ sign.
func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
