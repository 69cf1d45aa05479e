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

// Package inventory tracks which PersistentVolumeClaims are enrolled for
// backup. Enrollment state lives entirely on the PVCs themselves as a tier
// label plus an enrolled-at annotation; the tracker holds no state of its own
// and re-reads the cluster on every call.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

const (
	// TierLabel marks a PVC as enrolled and names its backup tier.
	TierLabel = "keeper.lhkeeper.io/tier"

	// EnrolledAtAnnotation records when the claim was first enrolled.
	EnrolledAtAnnotation = "keeper.lhkeeper.io/enrolled-at"
)

// Tier is the backup cadence a claim is enrolled for.
type Tier string

const (
	TierDaily  Tier = "daily"
	TierWeekly Tier = "weekly"
	TierBoth   Tier = "both"
)

// ParseTier validates a tier string.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierDaily, TierWeekly, TierBoth:
		return Tier(s), nil
	}
	return "", fmt.Errorf("invalid tier %q: must be daily, weekly or both", s)
}

// EnrolledVolume is one claim enrolled for backup. VolumeID is empty until
// the claim is bound; it is re-resolved from the PVC on every read.
type EnrolledVolume struct {
	Namespace  string
	ClaimName  string
	VolumeID   string
	Tier       Tier
	EnrolledAt time.Time
}

// Tracker reads and mutates enrollment state on PVCs.
type Tracker struct {
	client client.Client
	log    logr.Logger
}

// NewTracker creates a Tracker backed by the given cluster client.
func NewTracker(c client.Client, log logr.Logger) *Tracker {
	return &Tracker{client: c, log: log}
}

// List returns all enrolled claims, sorted by namespace then claim name.
// Claims bound after enrollment pick up their VolumeID here.
func (t *Tracker) List(ctx context.Context) ([]EnrolledVolume, error) {
	var pvcs corev1.PersistentVolumeClaimList
	if err := t.client.List(ctx, &pvcs, client.HasLabels{TierLabel}); err != nil {
		return nil, errdefs.ExternalUnavailable("cluster API", err)
	}

	enrolled := make([]EnrolledVolume, 0, len(pvcs.Items))
	for i := range pvcs.Items {
		ev, err := fromPVC(&pvcs.Items[i])
		if err != nil {
			t.log.Error(err, "Skipping claim with malformed enrollment metadata",
				"namespace", pvcs.Items[i].Namespace, "claim", pvcs.Items[i].Name)
			continue
		}
		enrolled = append(enrolled, ev)
	}

	sort.Slice(enrolled, func(i, j int) bool {
		if enrolled[i].Namespace != enrolled[j].Namespace {
			return enrolled[i].Namespace < enrolled[j].Namespace
		}
		return enrolled[i].ClaimName < enrolled[j].ClaimName
	})

	return enrolled, nil
}

// Get returns the enrollment entry for a single claim. Fails with NotFound
// when the claim does not exist or is not enrolled.
func (t *Tracker) Get(ctx context.Context, namespace, claimName string) (EnrolledVolume, error) {
	pvc, err := t.getPVC(ctx, namespace, claimName)
	if err != nil {
		return EnrolledVolume{}, err
	}
	if _, ok := pvc.Labels[TierLabel]; !ok {
		return EnrolledVolume{}, errdefs.NotFound("enrollment", namespace+"/"+claimName)
	}
	return fromPVC(pvc)
}

// Enroll marks a claim for backup at the given tier. Re-enrolling an already
// enrolled claim overwrites the tier and keeps the original enrollment time.
// Unbound claims are accepted; intent is recorded with an empty VolumeID.
func (t *Tracker) Enroll(ctx context.Context, namespace, claimName string, tier Tier) (EnrolledVolume, error) {
	pvc, err := t.getPVC(ctx, namespace, claimName)
	if err != nil {
		return EnrolledVolume{}, err
	}

	patched := pvc.DeepCopy()
	if patched.Labels == nil {
		patched.Labels = map[string]string{}
	}
	patched.Labels[TierLabel] = string(tier)

	if patched.Annotations == nil {
		patched.Annotations = map[string]string{}
	}
	if _, ok := patched.Annotations[EnrolledAtAnnotation]; !ok {
		patched.Annotations[EnrolledAtAnnotation] = time.Now().UTC().Format(time.RFC3339)
	}

	if err := t.client.Patch(ctx, patched, client.MergeFrom(pvc)); err != nil {
		if apierrors.IsConflict(err) {
			return EnrolledVolume{}, errdefs.Conflict("persistentvolumeclaim", namespace+"/"+claimName, err.Error())
		}
		return EnrolledVolume{}, errdefs.ExternalUnavailable("cluster API", err)
	}

	t.log.Info("Enrolled claim for backup",
		"namespace", namespace, "claim", claimName, "tier", tier, "volume", patched.Spec.VolumeName)

	return fromPVC(patched)
}

// Unenroll removes the enrollment entry from a claim. Backup records are
// never touched; the removed entry is returned so the caller can clear job
// bindings or delete offsite copies.
func (t *Tracker) Unenroll(ctx context.Context, namespace, claimName string) (EnrolledVolume, error) {
	pvc, err := t.getPVC(ctx, namespace, claimName)
	if err != nil {
		return EnrolledVolume{}, err
	}
	if _, ok := pvc.Labels[TierLabel]; !ok {
		return EnrolledVolume{}, errdefs.NotFound("enrollment", namespace+"/"+claimName)
	}

	removed, err := fromPVC(pvc)
	if err != nil {
		return EnrolledVolume{}, err
	}

	patched := pvc.DeepCopy()
	delete(patched.Labels, TierLabel)
	delete(patched.Annotations, EnrolledAtAnnotation)

	if err := t.client.Patch(ctx, patched, client.MergeFrom(pvc)); err != nil {
		if apierrors.IsConflict(err) {
			return EnrolledVolume{}, errdefs.Conflict("persistentvolumeclaim", namespace+"/"+claimName, err.Error())
		}
		return EnrolledVolume{}, errdefs.ExternalUnavailable("cluster API", err)
	}

	t.log.Info("Unenrolled claim", "namespace", namespace, "claim", claimName)

	return removed, nil
}

func (t *Tracker) getPVC(ctx context.Context, namespace, claimName string) (*corev1.PersistentVolumeClaim, error) {
	pvc := &corev1.PersistentVolumeClaim{}
	key := types.NamespacedName{Namespace: namespace, Name: claimName}
	if err := t.client.Get(ctx, key, pvc); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, errdefs.NotFound("persistentvolumeclaim", namespace+"/"+claimName)
		}
		return nil, errdefs.ExternalUnavailable("cluster API", err)
	}
	return pvc, nil
}

func fromPVC(pvc *corev1.PersistentVolumeClaim) (EnrolledVolume, error) {
	tier, err := ParseTier(pvc.Labels[TierLabel])
	if err != nil {
		return EnrolledVolume{}, err
	}

	ev := EnrolledVolume{
		Namespace: pvc.Namespace,
		ClaimName: pvc.Name,
		VolumeID:  pvc.Spec.VolumeName,
		Tier:      tier,
	}
	if raw, ok := pvc.Annotations[EnrolledAtAnnotation]; ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			ev.EnrolledAt = ts
		}
	}
	return ev, nil
}
