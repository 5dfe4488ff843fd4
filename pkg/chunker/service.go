// Package chunker splits converted page text into overlapping chunks for
// embedding and retrieval.
package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/liliang-cn/ragroom/pkg/domain"
)

// Options selects the split method and its window geometry. Size and Overlap
// are counted in runes for the character method and in tokens for the token
// method.
type Options struct {
	Size    int
	Overlap int
	Method  string // character, token
}

type Service struct{}

func New() *Service {
	return &Service{}
}

// Split cuts text into chunks. The character method is a deterministic
// sliding window, so the same page text always yields the same chunk count.
// Whitespace-only chunks are dropped.
func (s *Service) Split(text string, options Options) ([]string, error) {
	if text == "" {
		return []string{}, nil
	}
	if options.Size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidInput, options.Size)
	}
	if options.Overlap < 0 || options.Overlap >= options.Size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", domain.ErrInvalidInput, options.Overlap, options.Size)
	}

	switch options.Method {
	case "", "character":
		return s.splitByCharacter(text, options), nil
	case "token":
		return s.splitByToken(text, options)
	default:
		return nil, fmt.Errorf("%w: unknown chunk method %s", domain.ErrInvalidInput, options.Method)
	}
}

func (s *Service) splitByCharacter(text string, options Options) []string {
	runes := []rune(text)
	step := options.Size - options.Overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + options.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func (s *Service) splitByToken(text string, options Options) ([]string, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load token encoding: %v", domain.ErrInvalidInput, err)
	}

	tokens := enc.Encode(text, nil, nil)
	step := options.Size - options.Overlap

	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + options.Size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := enc.Decode(tokens[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}

// SplitForRAG applies the configured retrieval chunk geometry with the
// character method.
func (s *Service) SplitForRAG(text string, settings domain.RAGSettings) ([]string, error) {
	return s.Split(text, Options{
		Size:    settings.CharChunkSize,
		Overlap: settings.CharOverlap,
		Method:  "character",
	})
}

// TokenCount reports the number of cl100k_base tokens in text, falling back
// to a whitespace word count when the encoding cannot be loaded.
func (s *Service) TokenCount(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}
