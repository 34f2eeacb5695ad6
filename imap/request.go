package imap

import (
	"errors"
	"strings"
)

// ErrBadRequest is returned for lines that do not carry a tag and a verb.
var ErrBadRequest = errors.New("imap: invalid command format")

// Request is one parsed client command: tag, canonical verb, and the
// space-split argument list.
type Request struct {
	Tag     string
	Command string
	Args    []string
}

// ParseRequest splits a raw line into tag, verb, and arguments. The
// verb is uppercased; arguments keep their original case.
func ParseRequest(line string) (*Request, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, ErrBadRequest
	}

	req := &Request{
		Tag:     parts[0],
		Command: strings.ToUpper(parts[1]),
	}
	if len(parts) > 2 {
		req.Args = strings.Fields(parts[2])
	}
	return req, nil
}
