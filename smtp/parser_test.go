package smtp

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line     string
		wantCmd  Command
		wantArgs string
		wantErr  bool
	}{
		{"HELO client.example.com", CmdHelo, "client.example.com", false},
		{"ehlo client.example.com", CmdEhlo, "client.example.com", false},
		{"MAIL FROM:<a@b.example>", CmdMail, "FROM:<a@b.example>", false},
		{"rcpt TO:<a@b.example>", CmdRcpt, "TO:<a@b.example>", false},
		{"DATA", CmdData, "", false},
		{"QUIT", CmdQuit, "", false},
		{"NOOP  ", CmdNoop, "", false},
		{"RSET", CmdRset, "", false},
		{"HELP", CmdHelp, "", false},
		{"FROBNICATE", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		cmd, args, err := parseCommand(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseCommand(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if cmd != tt.wantCmd || args != tt.wantArgs {
			t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)",
				tt.line, cmd, args, tt.wantCmd, tt.wantArgs)
		}
	}
}

func TestCleanAddress(t *testing.T) {
	tests := []struct {
		args   string
		want   string
		wantOK bool
	}{
		{"FROM:<alice@example.com>", "alice@example.com", true},
		{"TO:<bob@example.com>", "bob@example.com", true},
		{"FROM:<>", "", true},
		{"FROM: <alice@example.com> SIZE=1024", "alice@example.com", true},
		{"FROM:alice@example.com", "alice@example.com", true},
		{"TO:bob@example.com BODY=8BITMIME", "bob@example.com", true},
		{"FROM:", "", false},
		{"FROM:<unterminated", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := cleanAddress(tt.args)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("cleanAddress(%q) = (%q, %v), want (%q, %v)",
				tt.args, got, ok, tt.want, tt.wantOK)
		}
	}
}
