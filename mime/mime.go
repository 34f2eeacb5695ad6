// Package mime decomposes raw RFC 822/2045 message blobs into plain
// body, HTML body and attachment parts. Parsing is tolerant throughout:
// malformed input degrades to safe defaults and never fails a message.
package mime

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"strings"
)

// TransferEncoding is the Content-Transfer-Encoding of a MIME part.
type TransferEncoding string

const (
	Encoding7Bit            TransferEncoding = "7bit"
	Encoding8Bit            TransferEncoding = "8bit"
	EncodingBinary          TransferEncoding = "binary"
	EncodingQuotedPrintable TransferEncoding = "quoted-printable"
	EncodingBase64          TransferEncoding = "base64"
)

// Part is one node of a parsed MIME tree (RFC 2045, RFC 2046).
type Part struct {
	ContentType      string
	Charset          string
	Filename         string
	TransferEncoding TransferEncoding
	Body             []byte
	Parts            []*Part
}

// IsMultipart reports whether this part contains nested parts.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/") && len(p.Parts) > 0
}

// DecodedBody returns the part body with its transfer encoding undone.
// Decoding failures fall back to the raw bytes.
func (p *Part) DecodedBody() []byte {
	return decodeBody(p.TransferEncoding, p.Body)
}

// HeaderGetter is the subset of header access the parser needs.
// net/mail.Header and textproto.MIMEHeader both satisfy it.
type HeaderGetter interface {
	Get(name string) string
}

// Parse builds a Part tree from headers and body. Per RFC 2045 Section
// 5.2 a missing or invalid Content-Type defaults to text/plain;
// charset=us-ascii.
func Parse(headers HeaderGetter, body []byte) (*Part, error) {
	contentType := headers.Get("Content-Type")
	if contentType == "" {
		return singlePart(headers, body, "text/plain", map[string]string{"charset": "us-ascii"}), nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return singlePart(headers, body, "text/plain", map[string]string{"charset": "us-ascii"}), nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return parseMultipart(body, mediaType, params)
	}

	return singlePart(headers, body, mediaType, params), nil
}

// singlePart handles non-multipart content.
func singlePart(headers HeaderGetter, body []byte, mediaType string, params map[string]string) *Part {
	part := &Part{
		ContentType:      mediaType,
		TransferEncoding: Encoding7Bit,
		Body:             body,
	}
	if charset, ok := params["charset"]; ok {
		part.Charset = charset
	}
	if cte := headers.Get("Content-Transfer-Encoding"); cte != "" {
		part.TransferEncoding = TransferEncoding(strings.ToLower(strings.TrimSpace(cte)))
	}
	part.Filename = dispositionFilename(headers.Get("Content-Disposition"))
	if part.Filename == "" {
		if name, ok := params["name"]; ok {
			part.Filename = name
		}
	}
	return part
}

// parseMultipart walks a multipart body, recursing into nested
// multipart sections.
func parseMultipart(body []byte, mediaType string, params map[string]string) (*Part, error) {
	boundary, ok := params["boundary"]
	if !ok || boundary == "" {
		return nil, errors.New("multipart Content-Type missing boundary parameter")
	}

	root := &Part{
		ContentType:      mediaType,
		TransferEncoding: Encoding7Bit,
		Parts:            make([]*Part, 0, 4),
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		section, err := reader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Truncated or malformed remainder: keep what parsed.
			break
		}

		part, err := parseSection(section)
		if err != nil {
			continue
		}
		root.Parts = append(root.Parts, part)
	}

	if len(root.Parts) == 0 {
		return nil, errors.New("multipart message contains no parts")
	}
	return root, nil
}

// parseSection parses one section of a multipart body.
func parseSection(section *multipart.Part) (*Part, error) {
	part := &Part{TransferEncoding: Encoding7Bit}

	contentType := section.Header.Get("Content-Type")
	var params map[string]string
	if contentType == "" {
		part.ContentType = "text/plain"
		part.Charset = "us-ascii"
	} else {
		mediaType, ctParams, err := mime.ParseMediaType(contentType)
		if err != nil {
			part.ContentType = "text/plain"
		} else {
			part.ContentType = mediaType
			params = ctParams
			if charset, ok := params["charset"]; ok {
				part.Charset = charset
			}
		}
	}

	if cte := section.Header.Get("Content-Transfer-Encoding"); cte != "" {
		part.TransferEncoding = TransferEncoding(strings.ToLower(strings.TrimSpace(cte)))
	}

	part.Filename = dispositionFilename(section.Header.Get("Content-Disposition"))
	if part.Filename == "" {
		if name, ok := params["name"]; ok {
			part.Filename = name
		}
	}

	body := bytes.NewBuffer(make([]byte, 0, 4096))
	if _, err := body.ReadFrom(section); err != nil {
		return nil, err
	}
	part.Body = body.Bytes()

	// Nested multipart: recurse on the raw section body.
	if strings.HasPrefix(part.ContentType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return part, nil
		}
		nested, err := parseMultipart(part.Body, part.ContentType, map[string]string{"boundary": boundary})
		if err == nil {
			part.Parts = nested.Parts
		}
	}

	return part, nil
}

// dispositionFilename extracts the filename parameter from a
// Content-Disposition header value, if present.
func dispositionFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// decodeBody undoes a transfer encoding, falling back to the raw bytes
// when decoding fails.
func decodeBody(encoding TransferEncoding, body []byte) []byte {
	switch encoding {
	case EncodingBase64:
		cleaned := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, string(body))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			// Tolerate missing padding.
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
			if err != nil {
				return body
			}
		}
		return decoded
	case EncodingQuotedPrintable:
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil && len(decoded) == 0 {
			return body
		}
		return decoded
	default:
		return body
	}
}
