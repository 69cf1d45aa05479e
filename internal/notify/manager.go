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

// Package notify posts fire-and-forget operational events to the configured
// sinks: a JSON webhook and a Prometheus Pushgateway. Delivery failures are
// logged and never propagated, so a dead sink cannot fail a backup
// operation.
package notify

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// EventKind classifies a notification event.
type EventKind string

const (
	// KindSuccess indicates a successful operation.
	KindSuccess EventKind = "success"
	// KindFailure indicates a failed operation.
	KindFailure EventKind = "failure"
	// KindWarning indicates a condition needing operator attention.
	KindWarning EventKind = "warning"
)

// Event is one notification.
type Event struct {
	Kind      EventKind
	Operation string
	Message   string
	Timestamp time.Time
	Details   map[string]string
}

// Config holds configuration for all sinks. A sink with an empty URL is
// disabled.
type Config struct {
	Webhook     WebhookConfig
	Pushgateway PushgatewayConfig
}

// WebhookConfig configures the JSON webhook sink.
type WebhookConfig struct {
	URL        string
	AuthHeader string
}

// PushgatewayConfig configures the Pushgateway sink.
type PushgatewayConfig struct {
	URL     string
	JobName string
}

// Manager fans one event out to every configured sink.
type Manager struct {
	log         logr.Logger
	webhook     *WebhookNotifier
	pushgateway *PushgatewayNotifier
}

// NewManager creates a notification manager.
func NewManager(log logr.Logger) *Manager {
	return &Manager{
		log:         log,
		webhook:     NewWebhookNotifier(log),
		pushgateway: NewPushgatewayNotifier(log),
	}
}

// Post sends an event to all configured sinks. Failures are logged, not
// returned, and not retried.
func (m *Manager) Post(ctx context.Context, config Config, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if config.Webhook.URL != "" {
		if err := m.webhook.Notify(ctx, config.Webhook, event); err != nil {
			m.log.Error(err, "Failed to post event to webhook", "kind", event.Kind, "operation", event.Operation)
		}
	}

	if config.Pushgateway.URL != "" {
		if err := m.pushgateway.Notify(ctx, config.Pushgateway, event); err != nil {
			m.log.Error(err, "Failed to push event metrics", "kind", event.Kind, "operation", event.Operation)
		}
	}
}
