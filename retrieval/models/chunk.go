package models

// Chunk is a slice of a document's extracted text, owned by one user
type Chunk struct {
	FileID     uint   `json:"file_id"`
	UserID     uint   `json:"user_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

// SearchResult is a chunk returned by similarity search. Higher Score is more relevant.
type SearchResult struct {
	Content    string  `json:"content"`
	FileID     uint    `json:"file_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}
