package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key derives the cache key for an analysis request. Two requests with the
// same kind and content must always map to the same key, across processes
// and restarts; everything else (context maps, scope ids, timestamps) is
// deliberately excluded from the digest.
func Key(kind, content string) string {
	hash := sha256.Sum256([]byte(kind + ":" + content))
	return fmt.Sprintf("aicache:%s", hex.EncodeToString(hash[:]))
}
