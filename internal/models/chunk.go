package models

// Chunk is a bounded text segment derived deterministically from a Document.
// Offset and Length are measured in characters (runes) of the document text.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	DocumentKey string `json:"document_key"`
	Index       int    `json:"index"`
	Text        string `json:"text"`
	Offset      int    `json:"offset"`
	Length      int    `json:"length"`
}

// End returns the offset one past the last character of the chunk
func (c Chunk) End() int {
	return c.Offset + c.Length
}

// Embedding is the vector for one chunk
type Embedding struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
}

// ScoredChunk pairs a chunk with its similarity to a query
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// RetrievalResult is an ordered sequence of scored chunks, highest score first.
// SnapshotVersion identifies the index snapshot every item was read from.
type RetrievalResult struct {
	Items           []ScoredChunk `json:"items"`
	SnapshotVersion uint64        `json:"snapshot_version"`
}

// Len returns the number of items
func (r RetrievalResult) Len() int {
	return len(r.Items)
}

// TopScore returns the highest score, or 0 for an empty result
func (r RetrievalResult) TopScore() float32 {
	if len(r.Items) == 0 {
		return 0
	}
	return r.Items[0].Score
}
