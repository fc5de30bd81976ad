package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash is the hex sha256 of text. Ingestion uses the same hash for
// duplicate detection, so a cached document embedding can be reused.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

type cacheKey struct {
	model       string
	taskType    string
	contentHash string
}

func newCacheKey(modelName, taskType, text string) cacheKey {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	return cacheKey{model: modelName, taskType: taskType, contentHash: ContentHash(text)}
}

func (k cacheKey) String() string {
	return "embed:" + k.model + ":" + k.taskType + ":" + k.contentHash
}
