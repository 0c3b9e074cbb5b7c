// Package xid generates identifiers that stay unique across process restarts
// and across terminals that share no coordination: a nanosecond timestamp
// combined with random entropy. Ids are never assigned by the server at
// creation time.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	entropy := make([]byte, 8)
	if _, err := rand.Read(entropy); err != nil {
		// crypto/rand failing is effectively unheard of; the timestamp alone
		// still keeps single-terminal ids unique.
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(entropy))
}
