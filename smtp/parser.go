package smtp

import (
	"fmt"
	"strings"
)

// Command is a canonical SMTP verb.
type Command string

const (
	CmdHelo Command = "HELO"
	CmdEhlo Command = "EHLO"
	CmdMail Command = "MAIL"
	CmdRcpt Command = "RCPT"
	CmdData Command = "DATA"
	CmdRset Command = "RSET"
	CmdVrfy Command = "VRFY"
	CmdExpn Command = "EXPN"
	CmdHelp Command = "HELP"
	CmdNoop Command = "NOOP"
	CmdQuit Command = "QUIT"
)

// parseCommand splits a command line into verb and arguments.
func parseCommand(line string) (cmd Command, args string, err error) {
	before, after, found := strings.Cut(line, " ")

	if !found {
		// Case: "QUIT", "NOOP", "RSET" (no arguments)
		cmd, err := canonicalizeVerb(before)
		return cmd, "", err
	}

	// Case: "MAIL FROM:...", "RCPT TO:..."
	// We trim the args, but we canonicalize the verb without allocation.
	cmd, err = canonicalizeVerb(before)
	return cmd, strings.TrimSpace(after), err
}

func canonicalizeVerb(verb string) (Command, error) {
	if len(verb) == 4 {
		if strings.EqualFold(verb, "HELO") {
			return CmdHelo, nil
		}
		if strings.EqualFold(verb, "EHLO") {
			return CmdEhlo, nil
		}
		if strings.EqualFold(verb, "MAIL") {
			return CmdMail, nil
		}
		if strings.EqualFold(verb, "RCPT") {
			return CmdRcpt, nil
		}
		if strings.EqualFold(verb, "DATA") {
			return CmdData, nil
		}
		if strings.EqualFold(verb, "RSET") {
			return CmdRset, nil
		}
		if strings.EqualFold(verb, "VRFY") {
			return CmdVrfy, nil
		}
		if strings.EqualFold(verb, "EXPN") {
			return CmdExpn, nil
		}
		if strings.EqualFold(verb, "HELP") {
			return CmdHelp, nil
		}
		if strings.EqualFold(verb, "NOOP") {
			return CmdNoop, nil
		}
		if strings.EqualFold(verb, "QUIT") {
			return CmdQuit, nil
		}
	}
	return "", fmt.Errorf("unknown command: %s", verb)
}

// cleanAddress extracts the mailbox address from MAIL/RCPT arguments
// such as "FROM:<alice@example.com>" or "TO:bob@example.com". The
// boolean reports whether an address field was present at all; the
// empty null path "<>" counts as present. ESMTP parameters after the
// address are dropped.
func cleanAddress(args string) (string, bool) {
	s := args
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)

	if start := strings.IndexByte(s, '<'); start >= 0 {
		if end := strings.IndexByte(s, '>'); end > start {
			return strings.TrimSpace(s[start+1 : end]), true
		}
		return "", false
	}

	// Bare address without angle brackets: take the first token.
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "", false
	}
	return s, true
}
