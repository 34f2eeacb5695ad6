package smtp

import "fmt"

// Code represents SMTP reply codes (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type Code int

const (
	CodeHelpMessage    Code = 214
	CodeServiceReady   Code = 220
	CodeServiceClosing Code = 221
	CodeOK             Code = 250
	CodeCannotVerify   Code = 252

	CodeStartMailInput Code = 354

	CodeServiceUnavailable Code = 421

	CodeCommandUnrecognized Code = 500
	CodeSyntaxError         Code = 501
	CodeBadSequence         Code = 503
)

// Response is a single SMTP reply line. It is written to the wire once
// and discarded.
type Response struct {
	Code    Code
	Message string
}

// String formats the reply without the trailing CRLF.
func (r Response) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Message)
}

func respond(code Code, message string) *Response {
	return &Response{Code: code, Message: message}
}
