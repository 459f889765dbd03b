package chat

import (
	"strings"
	"testing"

	"github.com/inoue-kamui/20match/internal/fault"
)

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "hello", want: "hello"},
		{name: "trims whitespace", in: "  hello there \n", want: "hello there"},
		{name: "empty", in: "", wantErr: true},
		{name: "whitespace only", in: " \t\n ", wantErr: true},
		{name: "at rune limit", in: strings.Repeat("a", MaxContentChars), want: strings.Repeat("a", MaxContentChars)},
		{name: "over rune limit", in: strings.Repeat("a", MaxContentChars+1), wantErr: true},
		// Multibyte runes count as one character each, not per byte.
		{name: "multibyte at limit", in: strings.Repeat("あ", MaxContentChars), want: strings.Repeat("あ", MaxContentChars)},
		{name: "multibyte over limit", in: strings.Repeat("あ", MaxContentChars+1), wantErr: true},
		{name: "invalid utf8", in: "hi\xff\xfe", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateContent(tc.in)
			if tc.wantErr {
				if !fault.IsCode(err, fault.CodeInvalidRequest) {
					t.Errorf("code = %s, want %s", fault.CodeOf(err), fault.CodeInvalidRequest)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateContent: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
