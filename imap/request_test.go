package imap

import (
	"reflect"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		line    string
		want    *Request
		wantErr bool
	}{
		{"a1 CAPABILITY", &Request{Tag: "a1", Command: "CAPABILITY"}, false},
		{"a2 login alice secret", &Request{Tag: "a2", Command: "LOGIN", Args: []string{"alice", "secret"}}, false},
		{"a3 SELECT \"INBOX\"", &Request{Tag: "a3", Command: "SELECT", Args: []string{"\"INBOX\""}}, false},
		{"a4 FETCH 1:5 (FLAGS BODY)", &Request{Tag: "a4", Command: "FETCH", Args: []string{"1:5", "(FLAGS", "BODY)"}}, false},
		{"justonetoken", nil, true},
		{"", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseRequest(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRequest(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseRequest(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}
