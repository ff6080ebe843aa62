package models

import "time"

// Chunk represents a split piece of a loaded document page
type Chunk struct {
	ID         string
	Content    string
	Source     string
	Filename   string
	PageNumber int
	ChunkID    int
}

type ChunkEmbedding struct {
	Chunk
	Embedding []float32
}

// Source is a retrieved chunk cited in an answer
type Source struct {
	ID         string  `json:"id"`
	Filename   string  `json:"filename"`
	PageNumber int     `json:"page"`
	ChunkID    int     `json:"chunk"`
	Similarity float32 `json:"similarity"`
	Content    string  `json:"-"`
}

type PromptResponse struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

type IndexBuild struct {
	Version   string    `json:"version"`
	Documents int       `json:"documents"`
	Chunks    int       `json:"chunks"`
	Synced    bool      `json:"synced"`
	BuiltAt   time.Time `json:"built_at"`
}

type DocumentInfo struct {
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	SHA256     string    `json:"sha256,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}
