// Package ai talks to the external answer generator: given a question, it
// returns the short phrase the AI seat submits as its answer.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generator produces the AI seat's answer for a question. Implementations
// may fail; the responder substitutes a fixed fallback phrase.
type Generator interface {
	Answer(ctx context.Context, question string) (string, error)
}

const maxAnswerWords = 3

// Clip truncates a phrase to the 1-3 word budget the game expects.
func Clip(phrase string) string {
	words := strings.Fields(phrase)
	if len(words) > maxAnswerWords {
		words = words[:maxAnswerWords]
	}
	return strings.Join(words, " ")
}

// HTTPGenerator calls an answer service over HTTP. The wire contract is
// POST /answer with {"question": "..."} returning {"answer": "..."}.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGenerator creates a generator client for the given base URL.
func NewHTTPGenerator(baseURL string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type answerRequest struct {
	Question string `json:"question"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

// Answer requests a 1-3 word phrase for the question.
func (g *HTTPGenerator) Answer(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(answerRequest{Question: question})
	if err != nil {
		return "", fmt.Errorf("marshal answer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/answer", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call answer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("answer service returned status %d: %s", resp.StatusCode, string(responseBody))
	}

	var decoded answerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode answer response: %w", err)
	}
	answer := Clip(strings.TrimSpace(decoded.Answer))
	if answer == "" {
		return "", fmt.Errorf("answer service returned an empty answer")
	}
	return answer, nil
}
