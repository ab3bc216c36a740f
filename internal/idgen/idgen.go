// Package idgen mints the random identifiers used across the site:
// session cookies ("ses_"), transcript messages ("msg_"), dev checkouts
// ("devck_"), and request IDs ("req_").
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns the prefix followed by 24 hex chars (12 random
// bytes). Session IDs get 96 bits of entropy; they are bearer tokens, so
// guessing one must be infeasible.
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
