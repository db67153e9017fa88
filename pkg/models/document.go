package models

import "time"

// MemoryDocument is a path-addressed piece of durable knowledge scoped to a
// user and, optionally, an agent. (user_id, agent_id, path) is unique;
// deleting a document cascades to its chunks.
type MemoryDocument struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	AgentID     string           `json:"agent_id,omitempty"`
	Path        string           `json:"path"`
	Name        string           `json:"name"`
	Source      string           `json:"source"`
	SourceURI   string           `json:"source_uri,omitempty"`
	ContentType string           `json:"content_type"`
	Content     string           `json:"content"`
	Metadata    DocumentMetadata `json:"metadata"`
	ChunkCount  int              `json:"chunk_count,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// DocumentMetadata carries free-form document context.
type DocumentMetadata struct {
	Title       string         `json:"title,omitempty"`
	Author      string         `json:"author,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Language    string         `json:"language,omitempty"`
	Custom      map[string]any `json:"custom,omitempty"`
}

// MemoryChunk is a slice of a MemoryDocument, optionally embedded for vector
// search. Chunking follows paragraph boundaries capped at max_chunk_runes
// with overlap_runes carried from the previous chunk's tail.
type MemoryChunk struct {
	ID          string        `json:"id"`
	DocumentID  string        `json:"document_id"`
	UserID      string        `json:"user_id"`
	AgentID     string        `json:"agent_id,omitempty"`
	Index       int           `json:"index"`
	Content     string        `json:"content"`
	Embedding   []float32     `json:"-"`
	StartOffset int           `json:"start_offset"`
	EndOffset   int           `json:"end_offset"`
	Metadata    ChunkMetadata `json:"metadata"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ChunkMetadata is inherited from the parent document at chunk time.
type ChunkMetadata struct {
	DocumentName string         `json:"document_name,omitempty"`
	Section      string         `json:"section,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// DocumentSearchRequest parameterizes a memory search.
type DocumentSearchRequest struct {
	Query       string   `json:"query"`
	UserID      string   `json:"user_id"`
	AgentID     string   `json:"agent_id,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Threshold   float32  `json:"threshold,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// DocumentSearchResult is a single scored match.
type DocumentSearchResult struct {
	Chunk      *MemoryChunk `json:"chunk"`
	Score      float32      `json:"score"`
	Highlights []string     `json:"highlights,omitempty"`
}

// DocumentSearchResponse wraps a ranked set of results.
type DocumentSearchResponse struct {
	Results    []*DocumentSearchResult `json:"results"`
	TotalCount int                     `json:"total_count"`
}

// ChunkDocument splits content into overlapping chunks at paragraph
// boundaries, capping each chunk at maxRunes runes and carrying overlapRunes
// from the tail of the previous chunk into the next one's start.
func ChunkDocument(content string, maxRunes, overlapRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = 2000
	}
	if overlapRunes < 0 || overlapRunes >= maxRunes {
		overlapRunes = 0
	}
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlapRunes
	}
	return chunks
}
