package mime

import (
	"strings"
	"testing"
	"time"
)

var receivedAt = time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)

func TestDecomposePlainMessage(t *testing.T) {
	raw := []byte("From: Bob <bob@remote.example>\r\n" +
		"To: alice@example.com, Carol <carol@example.com>\r\n" +
		"Subject: Lunch\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"\r\n" +
		"Noon at the usual place.\r\n")

	msg := Decompose(raw, receivedAt)

	if msg.Subject != "Lunch" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.Body != "Noon at the usual place.\r\n" {
		t.Errorf("Body = %q", msg.Body)
	}
	if msg.From.Email != "bob@remote.example" || msg.From.Name != "Bob" {
		t.Errorf("From = %+v", msg.From)
	}
	if len(msg.To) != 2 {
		t.Fatalf("To = %+v", msg.To)
	}
	if msg.To[0].Email != "alice@example.com" || msg.To[0].Name != "alice" {
		t.Errorf("To[0] = %+v", msg.To[0])
	}
	if msg.To[1].Name != "Carol" {
		t.Errorf("To[1] = %+v", msg.To[1])
	}
	if msg.Date.Year() != 2006 {
		t.Errorf("Date = %v", msg.Date)
	}
}

func TestDecomposeDefaults(t *testing.T) {
	raw := []byte("X-Nothing: here\r\n\r\njust a body\r\n")

	msg := Decompose(raw, receivedAt)

	if msg.Subject != "No Subject" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.From.Email != "unknown@example.com" || msg.From.Name != "Unknown" {
		t.Errorf("From = %+v", msg.From)
	}
	if !msg.Date.Equal(receivedAt) {
		t.Errorf("Date = %v, want receipt time", msg.Date)
	}
	if msg.Body != "just a body\r\n" {
		t.Errorf("Body = %q", msg.Body)
	}
}

func TestDecomposeUnparseableBlob(t *testing.T) {
	raw := []byte("no header section at all, just text")

	msg := Decompose(raw, receivedAt)

	if msg.Body != string(raw) {
		t.Errorf("Body = %q", msg.Body)
	}
	if msg.Subject != "No Subject" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if msg.From != unknownAddress {
		t.Errorf("From = %+v", msg.From)
	}
}

func TestDecomposeMultipartAlternative(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"From: bob@remote.example",
		"Subject: Both bodies",
		`Content-Type: multipart/alternative; boundary="AAA"`,
		"",
		"--AAA",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain version",
		"--AAA",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html version</p>",
		"--AAA--",
		"",
	}, "\r\n"))

	msg := Decompose(raw, receivedAt)

	if !strings.Contains(msg.Body, "plain version") {
		t.Errorf("Body = %q", msg.Body)
	}
	if !strings.Contains(msg.HTMLBody, "<p>html version</p>") {
		t.Errorf("HTMLBody = %q", msg.HTMLBody)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments = %+v", msg.Attachments)
	}
}

func TestDecomposeAttachments(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"From: bob@remote.example",
		"Subject: Files",
		`Content-Type: multipart/mixed; boundary="BBB"`,
		"",
		"--BBB",
		"Content-Type: text/plain",
		"",
		"see attachments",
		"--BBB",
		"Content-Type: text/html",
		"",
		"<p>see attachments</p>",
		"--BBB",
		`Content-Type: application/pdf; name="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		"cGRmIGJ5dGVz",
		"--BBB",
		`Content-Type: text/csv; name="data.csv"`,
		`Content-Disposition: attachment; filename="data.csv"`,
		"",
		"a,b,c",
		"--BBB--",
		"",
	}, "\r\n"))

	msg := Decompose(raw, receivedAt)

	if msg.Body != "see attachments" {
		t.Errorf("Body = %q", msg.Body)
	}
	if msg.HTMLBody != "<p>see attachments</p>" {
		t.Errorf("HTMLBody = %q", msg.HTMLBody)
	}
	// text/csv is not an attachment-eligible major type.
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments = %+v", msg.Attachments)
	}
	att := msg.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("Filename = %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q", att.ContentType)
	}
	if string(att.Data) != "pdf bytes" {
		t.Errorf("Data = %q", att.Data)
	}
	if att.Size != int64(len("pdf bytes")) {
		t.Errorf("Size = %d", att.Size)
	}
	if att.ID == "" {
		t.Error("Attachment ID not assigned")
	}
}

func TestDecomposeNestedMultipart(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"Subject: Nested",
		`Content-Type: multipart/mixed; boundary="OUTER"`,
		"",
		"--OUTER",
		`Content-Type: multipart/alternative; boundary="INNER"`,
		"",
		"--INNER",
		"Content-Type: text/plain",
		"",
		"inner plain",
		"--INNER",
		"Content-Type: text/html",
		"",
		"<b>inner html</b>",
		"--INNER--",
		"--OUTER",
		`Content-Type: image/png; name="p.png"`,
		"Content-Transfer-Encoding: base64",
		"",
		"aGk=",
		"--OUTER--",
		"",
	}, "\r\n"))

	msg := Decompose(raw, receivedAt)

	if !strings.Contains(msg.Body, "inner plain") {
		t.Errorf("Body = %q", msg.Body)
	}
	if !strings.Contains(msg.HTMLBody, "inner html") {
		t.Errorf("HTMLBody = %q", msg.HTMLBody)
	}
	if len(msg.Attachments) != 1 || string(msg.Attachments[0].Data) != "hi" {
		t.Errorf("Attachments = %+v", msg.Attachments)
	}
}

func TestDecomposeQuotedPrintableBody(t *testing.T) {
	raw := []byte("Subject: QP\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"caf=C3=A9 time\r\n")

	msg := Decompose(raw, receivedAt)

	if msg.Body != "café time\r\n" {
		t.Errorf("Body = %q", msg.Body)
	}
}

func TestParseAddressFallbacks(t *testing.T) {
	tests := []struct {
		in        string
		wantEmail string
		wantName  string
	}{
		{"Bob <bob@remote.example>", "bob@remote.example", "Bob"},
		{"bob@remote.example", "bob@remote.example", "bob"},
		{`"Quoted Name" <q@example.com>`, "q@example.com", "Quoted Name"},
		{"", "unknown@example.com", "Unknown"},
		{"not an address", "unknown@example.com", "Unknown"},
	}

	for _, tt := range tests {
		got := parseAddress(tt.in)
		if got.Email != tt.wantEmail || got.Name != tt.wantName {
			t.Errorf("parseAddress(%q) = %+v, want {%s %s}", tt.in, got, tt.wantEmail, tt.wantName)
		}
	}
}
