package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/inoue-kamui/20match/internal/fault"
)

// MaxContentChars is the maximum message length in characters.
const MaxContentChars = 500

// ValidateContent trims the message content and checks it against the
// content rules. It returns the trimmed content on success.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fault.InvalidRequest("message content cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) > MaxContentChars {
		return "", fault.InvalidRequest("message content exceeds 500 characters")
	}
	if !utf8.ValidString(trimmed) {
		return "", fault.InvalidRequest("message content contains invalid UTF-8")
	}
	return trimmed, nil
}
