package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySchemeMatchesSpecifiedLayout(t *testing.T) {
	uuid := "abc-123"
	assert.Equal(t, "abc-123/original", originalKey(uuid))
	assert.Equal(t, "abc-123/extracted.txt", extractedKey(uuid))
	assert.Equal(t, "abc-123/bm25_doc_index.json", lexicalIndexKey(uuid))
	assert.Equal(t, "abc-123/chunks/000.json", chunkKey(uuid, 0))
	assert.Equal(t, "abc-123/chunks/042.json", chunkKey(uuid, 42))
	assert.Equal(t, "abc-123/", prefixKey(uuid))
}

func TestChunkKeyZeroPadsToThreeDigits(t *testing.T) {
	assert.Equal(t, "u/chunks/999.json", chunkKey("u", 999))
	assert.Equal(t, "u/chunks/1000.json", chunkKey("u", 1000))
}
