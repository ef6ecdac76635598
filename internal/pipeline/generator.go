package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"liveclass/pkg/types"
)

// HTTPGenerator produces session content by posting the topic to an
// external generation service.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

// NewHTTPGenerator creates a generator backed by the service at url.
// The per-call deadline comes from the caller's context.
func NewHTTPGenerator(url string) *HTTPGenerator {
	return &HTTPGenerator{
		url:    url,
		client: &http.Client{},
	}
}

type generateRequest struct {
	Topic string `json:"topic"`
}

type generateResponse struct {
	Quizzes    []types.Quiz      `json:"quizzes"`
	Polls      []types.Poll      `json:"polls"`
	Flashcards []types.Flashcard `json:"flashcards"`
	Materials  []types.Material  `json:"materials"`
}

// Generate requests content for the topic and returns the parsed result.
func (g *HTTPGenerator) Generate(ctx context.Context, topic string) (*types.LiveContent, error) {
	body, err := json.Marshal(generateRequest{Topic: topic})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &types.LiveContent{
		Quizzes:    parsed.Quizzes,
		Polls:      parsed.Polls,
		Flashcards: parsed.Flashcards,
		Materials:  parsed.Materials,
	}, nil
}
