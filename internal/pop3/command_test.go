package pop3

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantCmd     string
		wantArgs    []string
		wantErr     bool
	}{
		{
			name:     "Simple command without args",
			line:     "QUIT",
			wantCmd:  "QUIT",
			wantArgs: []string{},
			wantErr:  false,
		},
		{
			name:     "Command with one arg",
			line:     "USER alice",
			wantCmd:  "USER",
			wantArgs: []string{"alice"},
			wantErr:  false,
		},
		{
			name:     "Command with multiple args",
			line:     "COMMAND arg1 arg2 arg3",
			wantCmd:  "COMMAND",
			wantArgs: []string{"arg1", "arg2", "arg3"},
			wantErr:  false,
		},
		{
			name:     "Command with extra whitespace",
			line:     "  USER   alice  ",
			wantCmd:  "USER",
			wantArgs: []string{"alice"},
			wantErr:  false,
		},
		{
			name:     "Lowercase command",
			line:     "user alice",
			wantCmd:  "USER",
			wantArgs: []string{"alice"},
			wantErr:  false,
		},
		{
			name:     "Mixed case command",
			line:     "QuIt",
			wantCmd:  "QUIT",
			wantArgs: []string{},
			wantErr:  false,
		},
		{
			name:     "Empty line",
			line:     "",
			wantCmd:  "",
			wantArgs: nil,
			wantErr:  true,
		},
		{
			name:     "Whitespace only",
			line:     "   ",
			wantCmd:  "",
			wantArgs: nil,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, err := ParseCommand(tt.line)

			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if cmd != tt.wantCmd {
				t.Errorf("ParseCommand() cmd = %v, want %v", cmd, tt.wantCmd)
			}

			if !stringSlicesEqual(args, tt.wantArgs) {
				t.Errorf("ParseCommand() args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestArgsASCIIOnly(t *testing.T) {
	if !argsASCIIOnly([]string{"alice", "plain-pass"}) {
		t.Fatalf("expected plain ASCII args to pass")
	}
	if argsASCIIOnly([]string{"h\xe9llo"}) {
		t.Fatalf("expected non-ASCII byte to fail")
	}
	if !argsASCIIOnly(nil) {
		t.Fatalf("expected no args to trivially pass")
	}
}

func TestResponseStringTerminatesEmptyMultilineBody(t *testing.T) {
	resp := Response{OK: true, Message: "0 messages (0 octets)", Multiline: true}
	want := "+OK 0 messages (0 octets)\r\n.\r\n"
	if got := resp.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResponseStringOmitsTerminatorWhenNotMultiline(t *testing.T) {
	resp := Response{OK: true, Message: "1 10"}
	want := "+OK 1 10\r\n"
	if got := resp.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestResponseStringStuffsDotLinesInMultilineBody(t *testing.T) {
	resp := Response{OK: true, Message: "2 octets", Lines: []string{".", "hi"}, Multiline: true}
	want := "+OK 2 octets\r\n..\r\nhi\r\n.\r\n"
	if got := resp.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

// Helper function to compare string slices
func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
