package service

import (
	"fmt"
	"strings"

	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/retrieval/models"
)

// Chunk splits text into windows of chunkSize words, each starting
// chunkSize-overlap words after the previous one. Splitting stops at the
// first window that reaches the last word, so the tail is never repeated.
// Emitting a window for every start index below the word count would
// instead add short trailing windows (a lone "g" for a-g at size 3,
// overlap 1); Chunk never does that.
func Chunk(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, apperrors.InvalidConfig("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, apperrors.InvalidConfig("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	chunks := make([]string, 0, len(words)/step+1)
	for start := 0; ; start += step {
		end := min(start+chunkSize, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// AugmentSystemPrompt appends numbered document excerpts to the system
// prompt. With no results the prompt is returned unchanged.
func AugmentSystemPrompt(systemPrompt string, results []models.SearchResult) string {
	if len(results) == 0 {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString("\n\n---\nRelevant context from your documents:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, r.Content)
	}
	b.WriteString("---\n")

	return strings.TrimSpace(systemPrompt + "\n\n" + b.String())
}
