package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf_Classified(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{NotFound("post not found"), CodeNotFound},
		{InvalidRequest("cannot apply to own post"), CodeInvalidRequest},
		{Conflict("match request already exists"), CodeConflict},
		{Forbidden("access to chat room denied"), CodeForbidden},
		{Unauthorized("missing user identifier"), CodeUnauthorized},
	}

	for _, c := range cases {
		if got := CodeOf(c.err); got != c.want {
			t.Errorf("CodeOf(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("match: approve: %w", Conflict("match is not pending"))
	if got := CodeOf(err); got != CodeConflict {
		t.Errorf("CodeOf(wrapped) = %s, want %s", got, CodeConflict)
	}
}

func TestCodeOf_Unclassified(t *testing.T) {
	err := errors.New("pq: connection refused")
	if got := CodeOf(err); got != CodeInternal {
		t.Errorf("CodeOf(plain error) = %s, want %s", got, CodeInternal)
	}
	if msg := MessageOf(err); msg != "internal error" {
		t.Errorf("MessageOf(plain error) = %q, should not leak internals", msg)
	}
}

func TestMessageOf_Classified(t *testing.T) {
	err := Forbidden("access to chat room denied")
	if msg := MessageOf(err); msg != "access to chat room denied" {
		t.Errorf("MessageOf = %q", msg)
	}
}

func TestIsCode(t *testing.T) {
	if !IsCode(NotFound("x"), CodeNotFound) {
		t.Error("IsCode should match the error's own code")
	}
	if IsCode(NotFound("x"), CodeConflict) {
		t.Error("IsCode should not match a different code")
	}
}
