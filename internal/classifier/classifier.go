// Package classifier calls the external reply-classification service.
// The service is a black box: it receives the raw message and returns a
// label plus a structured payload (including any drafted reply
// content).
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"outreach-dispatch-go/internal/config"
	"outreach-dispatch-go/internal/fetcher"
	"outreach-dispatch-go/internal/reply"
)

// Classifier produces a classification for one inbound email.
type Classifier interface {
	Classify(ctx context.Context, email fetcher.InboundEmail) (reply.Classification, string, error)
}

// HTTPClassifier posts to the configured classification endpoint.
type HTTPClassifier struct {
	url    string
	apiKey string
	client *http.Client
}

type classifyRequest struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type classifyResponse struct {
	Label   string          `json:"label"`
	JobID   string          `json:"job_id"`
	Payload json.RawMessage `json:"payload"`
}

// NewHTTPClassifier creates a classifier client.
func NewHTTPClassifier(cfg *config.ClassifierConfig) *HTTPClassifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClassifier{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Classify implements Classifier. It returns the classification and
// the job id the service associated with the message.
func (c *HTTPClassifier) Classify(ctx context.Context, email fetcher.InboundEmail) (reply.Classification, string, error) {
	body, err := json.Marshal(classifyRequest{
		MessageID: email.MessageID,
		From:      email.From,
		Subject:   email.Subject,
		Body:      email.Body,
	})
	if err != nil {
		return reply.Classification{}, "", fmt.Errorf("classifier: encode request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return reply.Classification{}, "", fmt.Errorf("classifier: build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return reply.Classification{}, "", fmt.Errorf("classifier: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return reply.Classification{}, "", fmt.Errorf("classifier: status %d: %s", resp.StatusCode, payload)
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return reply.Classification{}, "", fmt.Errorf("classifier: decode response failed: %w", err)
	}
	if parsed.Label == "" {
		parsed.Label = reply.LabelOther
	}

	return reply.Classification{Label: parsed.Label, Payload: parsed.Payload}, parsed.JobID, nil
}
