package common

import (
	"fmt"

	"github.com/google/uuid"
)

// chunkNamespace scopes chunk IDs so they never collide with other UUIDv5 users
var chunkNamespace = uuid.MustParse("6f1b8c1e-3a0e-5c55-9d8a-4b1f1e2d7c10")

// NewDocumentID generates a unique document ID with the "doc_" prefix
// Format: doc_<uuid>
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewRequestID generates a unique request ID with the "req_" prefix.
// Request IDs also name generated audio files.
func NewRequestID() string {
	return "req_" + uuid.New().String()
}

// ChunkID derives a deterministic chunk ID from its document and position.
// Format: chunk_<uuidv5>
func ChunkID(documentID string, index int) string {
	return "chunk_" + uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", documentID, index))).String()
}
