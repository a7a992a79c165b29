// Package cursor implements the opaque keyset-pagination tokens used by
// queue listings. A token encodes the sort triple of the last row served:
// the primary sort rank, the row's update time and its id.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Token is the decoded cursor triple.
type Token struct {
	Rank      int       `json:"r"`
	UpdatedAt time.Time `json:"u"`
	ID        uint      `json:"i"`
}

// Encode serializes the token to an opaque URL-safe string.
func Encode(t Token) string {
	raw, _ := json.Marshal(t)
	return base64.URLEncoding.EncodeToString(raw)
}

// Decode parses an opaque cursor string. Malformed input returns an error
// the transport layer maps to a 400.
func Decode(enc string) (Token, error) {
	var t Token
	raw, err := base64.URLEncoding.DecodeString(enc)
	if err != nil {
		return t, errors.Wrap(err, "malformed cursor")
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, errors.Wrap(err, "malformed cursor")
	}
	return t, nil
}
