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
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushgatewayNotifier sends event metrics to a Prometheus Pushgateway.
type PushgatewayNotifier struct {
	log logr.Logger
}

// NewPushgatewayNotifier creates a new Pushgateway notifier.
func NewPushgatewayNotifier(log logr.Logger) *PushgatewayNotifier {
	return &PushgatewayNotifier{
		log: log,
	}
}

// Notify pushes metrics for one event.
func (p *PushgatewayNotifier) Notify(_ context.Context, config PushgatewayConfig, event Event) error {
	jobName := config.JobName
	if jobName == "" {
		jobName = "longhorn-keeper"
	}

	registry := prometheus.NewRegistry()

	timestampGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_event_timestamp_seconds",
		Help: "Unix timestamp of the last keeper event",
	})
	timestampGauge.Set(float64(event.Timestamp.Unix()))
	registry.MustRegister(timestampGauge)

	// 1 = success, 0 = failure or warning.
	statusGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_operation_status",
		Help: "Status of the last keeper operation (1 = success, 0 = failure)",
	})
	if event.Kind == KindSuccess {
		statusGauge.Set(1)
	} else {
		statusGauge.Set(0)
	}
	registry.MustRegister(statusGauge)

	pusher := push.New(config.URL, jobName).
		Grouping("operation", event.Operation).
		Gatherer(registry)

	if err := pusher.Push(); err != nil {
		return fmt.Errorf("failed to push metrics to Pushgateway: %w", err)
	}

	p.log.V(1).Info("Pushed event metrics to Pushgateway",
		"url", config.URL,
		"job", jobName,
		"operation", event.Operation,
		"kind", event.Kind)

	return nil
}
