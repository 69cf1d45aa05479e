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

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	_ "k8s.io/client-go/plugin/pkg/client/auth"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/catalog"
	"github.com/lhkeeper/longhorn-keeper/internal/config"
	"github.com/lhkeeper/longhorn-keeper/internal/index"
	"github.com/lhkeeper/longhorn-keeper/internal/inventory"
	"github.com/lhkeeper/longhorn-keeper/internal/notify"
	"github.com/lhkeeper/longhorn-keeper/internal/offsite"
	"github.com/lhkeeper/longhorn-keeper/internal/reconcile"
	"github.com/lhkeeper/longhorn-keeper/internal/restore"
)

// app bundles the loaded configuration, the Kubernetes client and the
// component constructors every command needs. The client is deliberately
// uncached; each command is a one-shot read-through invocation.
type app struct {
	cfg    *config.Config
	client client.Client
	log    logr.Logger
	events *notify.Manager
}

// newApp loads configuration and connects to the cluster.
func newApp() (*app, error) {
	logger := zap.New(zap.UseDevMode(rootFlags.debug))
	log.SetLogger(logger)

	cfg, err := config.Load(rootFlags.config)
	if err != nil {
		return nil, err
	}

	kubeconfig := rootFlags.kubeconfig
	if kubeconfig == "" {
		kubeconfig = cfg.Kubeconfig
	}

	var restCfg *rest.Config
	if kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", kubeconfig, err)
		}
	} else {
		restCfg, err = ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get kubeconfig: %w", err)
		}
	}

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(lhv1beta2.AddToScheme(scheme))

	k8sClient, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s client: %w", err)
	}

	return &app{
		cfg:    cfg,
		client: k8sClient,
		log:    logger,
		events: notify.NewManager(logger),
	}, nil
}

func (a *app) tracker() *inventory.Tracker {
	return inventory.NewTracker(a.client, a.log)
}

func (a *app) catalog() *catalog.Reader {
	return catalog.NewReader(a.client, a.cfg.LonghornNamespace, a.log)
}

func (a *app) reconciler() *reconcile.Reconciler {
	return reconcile.NewReconciler(a.client, a.cfg.LonghornNamespace, a.log)
}

func (a *app) planner() *restore.Planner {
	return restore.NewPlanner(
		a.client,
		a.catalog(),
		a.cfg.LonghornNamespace,
		a.cfg.FallbackSizeQuantity(),
		restore.FallbackPolicy(a.cfg.Restore.FallbackSizePolicy),
		a.log,
	)
}

func (a *app) indexWriter() *index.Writer {
	return index.NewWriter(a.tracker(), a.catalog(), a.log)
}

func (a *app) rclone() *offsite.Rclone {
	return offsite.NewRclone(a.cfg.Offsite.RcloneBinary, a.cfg.Offsite.Remote, a.log)
}

// lister returns the configured offsite lister, rclone by default or a
// direct bucket listing for plain (unencrypted) remotes.
func (a *app) lister() (offsite.Lister, error) {
	if a.cfg.Offsite.Lister == "bucket" {
		return offsite.NewBucketLister(offsite.BucketConfig{
			Endpoint:  a.cfg.Offsite.Endpoint,
			AccessKey: a.cfg.Offsite.AccessKey,
			SecretKey: a.cfg.Offsite.SecretKey,
			Bucket:    a.cfg.Offsite.Bucket,
			Prefix:    a.cfg.Offsite.Prefix,
			Insecure:  a.cfg.Offsite.Insecure,
		}, a.log)
	}
	return a.rclone(), nil
}

// auditor builds the offsite auditor, deriving the grace period from the
// sync schedule unless a fixed one is configured.
func (a *app) auditor() (*offsite.Auditor, error) {
	lister, err := a.lister()
	if err != nil {
		return nil, err
	}

	grace := a.cfg.Offsite.GracePeriod
	if grace == 0 {
		grace, err = offsite.GraceFromSchedule(a.cfg.Offsite.SyncSchedule)
		if err != nil {
			return nil, err
		}
	}

	return offsite.NewAuditor(a.catalog(), lister, clock.RealClock{}, grace, a.log), nil
}

func (a *app) jobSpecs() []reconcile.JobSpec {
	return []reconcile.JobSpec{
		{
			Name:        reconcile.JobDaily,
			Cron:        a.cfg.Jobs.Daily.Cron,
			Retain:      a.cfg.Jobs.Daily.Retain,
			Concurrency: a.cfg.Jobs.Daily.Concurrency,
		},
		{
			Name:        reconcile.JobWeekly,
			Cron:        a.cfg.Jobs.Weekly.Cron,
			Retain:      a.cfg.Jobs.Weekly.Retain,
			Concurrency: a.cfg.Jobs.Weekly.Concurrency,
		},
	}
}

func (a *app) notifyConfig() notify.Config {
	return notify.Config{
		Webhook: notify.WebhookConfig{
			URL:        a.cfg.Notify.WebhookURL,
			AuthHeader: a.cfg.Notify.WebhookAuthHeader,
		},
		Pushgateway: notify.PushgatewayConfig{
			URL:     a.cfg.Notify.PushgatewayURL,
			JobName: a.cfg.Notify.PushgatewayJob,
		},
	}
}

// post emits a fire-and-forget notification event.
func (a *app) post(ctx context.Context, kind notify.EventKind, operation, message string, details map[string]string) {
	a.events.Post(ctx, a.notifyConfig(), notify.Event{
		Kind:      kind,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	})
}
