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

// Package restore plans and applies volume restores from the Longhorn backup
// catalog. Planning is pure computation against fresh cluster reads; the
// apply step is separate so a dry run costs nothing and mutates nothing.
package restore

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lhkeeper/longhorn-keeper/internal/catalog"
	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

// FallbackPolicy decides what happens when no size can be resolved for a
// restore: neither an override, nor a live claim, nor a backup size.
type FallbackPolicy string

const (
	// FallbackDefault provisions the configured fallback size (10Gi unless
	// overridden). Mirrors the historical script behavior.
	FallbackDefault FallbackPolicy = "default"
	// FallbackFail refuses to plan rather than risk under-provisioning.
	FallbackFail FallbackPolicy = "fail"
)

const gib = int64(1) << 30

// Request describes one restore to plan.
type Request struct {
	Namespace    string
	ClaimName    string
	BackupID     string // optional; empty selects the latest Completed backup
	NewName      string // optional; target claim name, defaults to ClaimName
	OverrideSize string // optional; quantity string such as "20Gi"
	StorageClass string // optional; defaults to the live claim's class or "longhorn"
}

// Plan is the computed restore specification. It is ephemeral and never
// persisted; Apply consumes it in the same invocation.
type Plan struct {
	TargetNamespace   string
	TargetClaimName   string
	SourceBackupID    string
	SourceURL         string
	VolumeName        string
	Size              resource.Quantity
	StorageClass      string
	RequiresReplace   bool
	NeedsConfirmation bool
	ConfirmReason     string
}

// Planner computes and applies restore plans.
type Planner struct {
	client         client.Client
	catalog        *catalog.Reader
	lhNamespace    string
	fallbackSize   resource.Quantity
	fallbackPolicy FallbackPolicy
	log            logr.Logger
}

// NewPlanner creates a Planner. lhNamespace is where Longhorn volume objects
// live; fallbackSize and fallbackPolicy govern the last-resort size choice.
func NewPlanner(c client.Client, cat *catalog.Reader, lhNamespace string, fallbackSize resource.Quantity, policy FallbackPolicy, log logr.Logger) *Planner {
	return &Planner{
		client:         c,
		catalog:        cat,
		lhNamespace:    lhNamespace,
		fallbackSize:   fallbackSize,
		fallbackPolicy: policy,
		log:            log,
	}
}

// Plan resolves the backup to restore from and computes the restore
// specification. It performs no mutation.
func (p *Planner) Plan(ctx context.Context, req Request) (Plan, error) {
	targetName := req.NewName
	if targetName == "" {
		targetName = req.ClaimName
	}

	liveClaim, err := p.getClaim(ctx, req.Namespace, req.ClaimName)
	if err != nil {
		return Plan{}, err
	}

	record, err := p.resolveBackup(ctx, req, liveClaim)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		TargetNamespace: req.Namespace,
		TargetClaimName: targetName,
		SourceBackupID:  record.ID,
		SourceURL:       record.SourceURL,
		VolumeName:      targetName,
		StorageClass:    req.StorageClass,
	}

	if record.State != catalog.StateCompleted {
		plan.NeedsConfirmation = true
		plan.ConfirmReason = fmt.Sprintf("backup %s is in state %s and may be partial", record.ID, record.State)
	}

	size, err := p.resolveSize(req.OverrideSize, liveClaim, record)
	if err != nil {
		return Plan{}, err
	}
	plan.Size = size

	if plan.StorageClass == "" {
		if liveClaim != nil && liveClaim.Spec.StorageClassName != nil {
			plan.StorageClass = *liveClaim.Spec.StorageClassName
		} else {
			plan.StorageClass = "longhorn"
		}
	}

	target, err := p.getClaim(ctx, req.Namespace, targetName)
	if err != nil {
		return Plan{}, err
	}
	if target != nil {
		plan.RequiresReplace = true
	}

	p.log.V(1).Info("Computed restore plan",
		"namespace", plan.TargetNamespace, "claim", plan.TargetClaimName,
		"backup", plan.SourceBackupID, "size", plan.Size.String(),
		"requiresReplace", plan.RequiresReplace, "needsConfirmation", plan.NeedsConfirmation)

	return plan, nil
}

// resolveBackup picks the backup record: the explicit id when given,
// otherwise the latest Completed backup of the claim's bound volume.
func (p *Planner) resolveBackup(ctx context.Context, req Request, liveClaim *corev1.PersistentVolumeClaim) (catalog.BackupRecord, error) {
	if req.BackupID != "" {
		return p.catalog.Get(ctx, req.BackupID)
	}

	if liveClaim == nil || liveClaim.Spec.VolumeName == "" {
		return catalog.BackupRecord{}, errdefs.AmbiguousSource(req.Namespace, req.ClaimName)
	}

	return p.catalog.Latest(ctx, liveClaim.Spec.VolumeName)
}

// resolveSize picks the restore size with strictly decreasing preference:
// explicit override, live claim request, backup size rounded up to whole
// GiB, configured fallback. Rounding is always upward so a restored volume
// is never smaller than the data it must hold.
func (p *Planner) resolveSize(override string, liveClaim *corev1.PersistentVolumeClaim, record catalog.BackupRecord) (resource.Quantity, error) {
	if override != "" {
		q, err := resource.ParseQuantity(override)
		if err != nil {
			return resource.Quantity{}, fmt.Errorf("invalid size override %q: %w", override, err)
		}
		return q, nil
	}

	if liveClaim != nil {
		if q, ok := liveClaim.Spec.Resources.Requests[corev1.ResourceStorage]; ok && !q.IsZero() {
			return q, nil
		}
	}

	if record.SizeBytes > 0 {
		rounded := (record.SizeBytes + gib - 1) / gib
		return *resource.NewQuantity(rounded*gib, resource.BinarySI), nil
	}

	if p.fallbackPolicy == FallbackFail {
		return resource.Quantity{}, fmt.Errorf("cannot determine restore size for backup %s and fallback policy is %q", record.ID, FallbackFail)
	}

	return p.fallbackSize, nil
}

// getClaim fetches a PVC, mapping "not found" to nil rather than an error.
func (p *Planner) getClaim(ctx context.Context, namespace, name string) (*corev1.PersistentVolumeClaim, error) {
	pvc := &corev1.PersistentVolumeClaim{}
	key := types.NamespacedName{Namespace: namespace, Name: name}
	if err := p.client.Get(ctx, key, pvc); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, errdefs.ExternalUnavailable("cluster API", err)
	}
	return pvc, nil
}
