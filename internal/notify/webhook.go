/*
Copyright 2025 lhkeeper.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// WebhookNotifier posts events as JSON to a configured HTTP endpoint.
type WebhookNotifier struct {
	log        logr.Logger
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(log logr.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		log: log,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// webhookPayload is the wire format posted to the endpoint.
type webhookPayload struct {
	Kind      string            `json:"kind"`
	Operation string            `json:"operation,omitempty"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// Notify posts one event.
func (n *WebhookNotifier) Notify(ctx context.Context, config WebhookConfig, event Event) error {
	payload := webhookPayload{
		Kind:      string(event.Kind),
		Operation: event.Operation,
		Message:   event.Message,
		Timestamp: event.Timestamp,
		Details:   event.Details,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if config.AuthHeader != "" {
		req.Header.Set("Authorization", config.AuthHeader)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code %d", resp.StatusCode)
	}

	n.log.V(1).Info("Posted webhook event", "kind", event.Kind, "operation", event.Operation)

	return nil
}
