package ws

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Identify extracts the authenticated user ID from an upgrade request. The
// sources are consulted in order and the first non-empty value wins:
//
//  1. the X-User-Id header
//  2. the Authorization header ("Bearer <userID>")
//  3. the userId query parameter
//
// The value must be a version-4 UUID. An error is returned when no source
// yields a value or the value is malformed; the caller rejects the upgrade.
func Identify(r *http.Request) (string, error) {
	raw := r.Header.Get("X-User-Id")

	if raw == "" {
		if auth := r.Header.Get("Authorization"); auth != "" {
			const prefix = "Bearer "
			if strings.HasPrefix(auth, prefix) {
				raw = strings.TrimSpace(auth[len(prefix):])
			}
		}
	}

	if raw == "" {
		raw = r.URL.Query().Get("userId")
	}

	if raw == "" {
		return "", fmt.Errorf("ws: no user identity in upgrade request")
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("ws: invalid user id %q: %w", raw, err)
	}
	if id.Version() != 4 {
		return "", fmt.Errorf("ws: user id %q is not a v4 UUID", raw)
	}
	return id.String(), nil
}
