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

// Package reconcile aligns Longhorn recurring-job bindings with enrollment
// state. The desired job set for a volume is derived from the tier of its
// enrolled claim; volumes carrying keeper-managed jobs without a matching
// enrollment get those jobs cleared. Recurring jobs not managed by the
// keeper are never touched.
package reconcile

import (
	"context"
	"sort"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/client"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
	"github.com/lhkeeper/longhorn-keeper/internal/inventory"
)

const (
	// JobDaily is the keeper-managed daily backup recurring job.
	JobDaily = "daily-backup"
	// JobWeekly is the keeper-managed weekly backup recurring job.
	JobWeekly = "weekly-backup"
)

// managedJobs is the full set of job names the keeper owns on volumes.
var managedJobs = sets.New(JobDaily, JobWeekly)

// JobsForTier maps an enrollment tier to its desired recurring job set.
func JobsForTier(tier inventory.Tier) []string {
	switch tier {
	case inventory.TierDaily:
		return []string{JobDaily}
	case inventory.TierWeekly:
		return []string{JobWeekly}
	case inventory.TierBoth:
		return []string{JobDaily, JobWeekly}
	}
	return nil
}

// Binding is the recurring-job binding applied to one volume. JobNames is
// sorted; an empty set means the keeper-managed jobs were cleared.
type Binding struct {
	VolumeID string
	JobNames []string
}

// Result reports one reconcile pass. Applied holds only bindings that were
// actually patched; a volume already in the desired state contributes
// nothing, which makes re-runs with unchanged input produce an empty Result.
type Result struct {
	Applied  []Binding
	Failures []errdefs.ItemFailure
}

// Reconciler diffs desired against actual recurring-job bindings and patches
// volumes into shape.
type Reconciler struct {
	client    client.Client
	namespace string
	log       logr.Logger
}

// NewReconciler creates a Reconciler. namespace is where Longhorn keeps its
// Volume objects, normally longhorn-system.
func NewReconciler(c client.Client, namespace string, log logr.Logger) *Reconciler {
	return &Reconciler{client: c, namespace: namespace, log: log}
}

// Reconcile applies the job bindings implied by the given enrollment set.
// Per-volume apply failures are collected in the Result and do not stop the
// batch; only a failure to list volumes aborts.
func (r *Reconciler) Reconcile(ctx context.Context, enrolled []inventory.EnrolledVolume) (Result, error) {
	desired := map[string]sets.Set[string]{}
	for _, ev := range enrolled {
		if ev.VolumeID == "" {
			// Enrollment intent recorded but claim not yet bound; nothing
			// to schedule until a volume exists.
			r.log.V(1).Info("Skipping unbound enrollment", "namespace", ev.Namespace, "claim", ev.ClaimName)
			continue
		}
		desired[ev.VolumeID] = sets.New(JobsForTier(ev.Tier)...)
	}

	var volumes lhv1beta2.VolumeList
	if err := r.client.List(ctx, &volumes, client.InNamespace(r.namespace)); err != nil {
		return Result{}, errdefs.ExternalUnavailable("longhorn API", err)
	}

	var result Result
	seen := sets.New[string]()

	for i := range volumes.Items {
		vol := &volumes.Items[i]
		seen.Insert(vol.Name)

		want, ok := desired[vol.Name]
		if !ok {
			// Not enrolled (or no longer enrolled): managed jobs clear to
			// empty, anything else on the volume stays.
			want = sets.New[string]()
		}

		current := currentManaged(vol)
		if current.Equal(want) {
			continue
		}

		if err := r.patchSelector(ctx, vol, want); err != nil {
			result.Failures = append(result.Failures, errdefs.ItemFailure{Item: vol.Name, Err: err})
			continue
		}

		result.Applied = append(result.Applied, Binding{
			VolumeID: vol.Name,
			JobNames: sets.List(want),
		})
	}

	// Enrolled volumes with no Volume object are reported, not fatal; the
	// claim may reference a volume that was deleted out from under it.
	for volumeID := range desired {
		if !seen.Has(volumeID) {
			result.Failures = append(result.Failures, errdefs.ItemFailure{
				Item: volumeID,
				Err:  errdefs.NotFound("volume", volumeID),
			})
		}
	}

	sort.Slice(result.Applied, func(i, j int) bool {
		return result.Applied[i].VolumeID < result.Applied[j].VolumeID
	})
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Item < result.Failures[j].Item
	})

	r.log.Info("Reconciled recurring-job bindings",
		"applied", len(result.Applied), "failed", len(result.Failures), "volumes", len(volumes.Items))

	return result, nil
}

// currentManaged extracts the keeper-managed subset of a volume's selector.
func currentManaged(vol *lhv1beta2.Volume) sets.Set[string] {
	current := sets.New[string]()
	for _, job := range vol.Spec.RecurringJobSelector {
		if !job.IsGroup && managedJobs.Has(job.Name) {
			current.Insert(job.Name)
		}
	}
	return current
}

// patchSelector merge-patches the volume's selector to carry exactly the
// wanted managed jobs, preserving foreign entries.
func (r *Reconciler) patchSelector(ctx context.Context, vol *lhv1beta2.Volume, want sets.Set[string]) error {
	patched := vol.DeepCopy()

	selector := make([]lhv1beta2.VolumeRecurringJob, 0, len(vol.Spec.RecurringJobSelector)+want.Len())
	for _, job := range vol.Spec.RecurringJobSelector {
		if !job.IsGroup && managedJobs.Has(job.Name) {
			continue
		}
		selector = append(selector, job)
	}
	for _, name := range sets.List(want) {
		selector = append(selector, lhv1beta2.VolumeRecurringJob{Name: name})
	}
	patched.Spec.RecurringJobSelector = selector

	if err := r.client.Patch(ctx, patched, client.MergeFrom(vol)); err != nil {
		switch {
		case apierrors.IsNotFound(err):
			return errdefs.NotFound("volume", vol.Name)
		case apierrors.IsConflict(err):
			return errdefs.Conflict("volume", vol.Name, err.Error())
		default:
			return errdefs.ExternalUnavailable("longhorn API", err)
		}
	}

	r.log.V(1).Info("Patched recurring-job selector", "volume", vol.Name, "jobs", sets.List(want))
	return nil
}
