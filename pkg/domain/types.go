package domain

import (
	"time"
)

// Message is a single chat message sent to a model runner.
// Images carry base64-encoded payloads for multimodal models.
type Message struct {
	Role    string   `json:"role"` // system, user, assistant
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ChatRoom describes one conversation container.
type ChatRoom struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created"`
	Active    bool      `json:"active"`
	Settings  string    `json:"settings,omitempty"`
}

// RoomMessage is a persisted chat message with per-turn bookkeeping.
// RAGSources holds the JSON-encoded reranked sources used for the turn,
// so history replay can re-inject them.
type RoomMessage struct {
	ID         int64     `json:"id"`
	RoomID     string    `json:"room_id"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	RAGSources string    `json:"rag_sources,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Failed     bool      `json:"failed"`
}

// MessageProgress is published on every streamed event of a generation.
type MessageProgress struct {
	Status              string  `json:"status"` // generating, error
	NewTokens           int     `json:"new_tokens"`
	DurationSeconds     float64 `json:"duration_s"`
	TotalResponseTokens int     `json:"total_response_tokens"`
	Message             string  `json:"message,omitempty"`
}

// ProgressFunc receives streaming progress updates. Implementations must be
// side-effect-only and non-blocking beyond a single publish.
type ProgressFunc func(MessageProgress)

// RAGSettings tunes retrieval, chunking and reranking.
type RAGSettings struct {
	DocumentCount             int     `mapstructure:"rag_document_count" json:"rag_document_count"`
	CharChunkSize             int     `mapstructure:"rag_char_chunk_size" json:"rag_char_chunk_size"`
	CharOverlap               int     `mapstructure:"rag_char_overlap" json:"rag_char_overlap"`
	SimilarityScoreThreshold  float64 `mapstructure:"rag_similarity_score_threshold" json:"rag_similarity_score_threshold"`
	ScoreMargin               float64 `mapstructure:"rag_score_margin" json:"rag_score_margin"`
	CosineDistanceIrrelevance float64 `mapstructure:"rag_cosine_distance_irrelevance_threshold" json:"rag_cosine_distance_irrelevance_threshold"`
}

// RetrievedDocument is one RAG lookup hit. Score uses distance semantics:
// lower means more similar.
type RetrievedDocument struct {
	ID              string         `json:"id"`
	SimilarityScore float64        `json:"similarity_score"`
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}
