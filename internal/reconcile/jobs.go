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

package reconcile

import (
	"context"
	"fmt"
	"reflect"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/robfig/cron/v3"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

// JobSpec describes one keeper-managed RecurringJob.
type JobSpec struct {
	Name        string
	Cron        string
	Retain      int
	Concurrency int
}

// Validate checks the job name and cron expression.
func (j JobSpec) Validate() error {
	if j.Name != JobDaily && j.Name != JobWeekly {
		return fmt.Errorf("job name %q is not keeper-managed", j.Name)
	}
	if _, err := cron.ParseStandard(j.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", j.Cron, j.Name, err)
	}
	if j.Retain < 1 {
		return fmt.Errorf("job %s: retain must be at least 1", j.Name)
	}
	return nil
}

// EnsureRecurringJobs creates or updates the keeper-managed RecurringJob
// objects so Longhorn runs the scheduled backups the bindings refer to.
// Returns the names of jobs that were created or updated.
func (r *Reconciler) EnsureRecurringJobs(ctx context.Context, specs []JobSpec) ([]string, error) {
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	var changed []string
	for _, spec := range specs {
		concurrency := spec.Concurrency
		if concurrency < 1 {
			concurrency = 1
		}

		desired := lhv1beta2.RecurringJobSpec{
			Name:        spec.Name,
			Task:        lhv1beta2.RecurringJobTaskBackup,
			Cron:        spec.Cron,
			Retain:      spec.Retain,
			Concurrency: concurrency,
			Labels:      map[string]string{"keeper.lhkeeper.io/managed": "true"},
		}

		existing := &lhv1beta2.RecurringJob{}
		key := client.ObjectKey{Namespace: r.namespace, Name: spec.Name}
		err := r.client.Get(ctx, key, existing)

		switch {
		case apierrors.IsNotFound(err):
			job := &lhv1beta2.RecurringJob{
				ObjectMeta: metav1.ObjectMeta{Namespace: r.namespace, Name: spec.Name},
				Spec:       desired,
			}
			if err := r.client.Create(ctx, job); err != nil {
				if apierrors.IsAlreadyExists(err) {
					return changed, errdefs.Conflict("recurringjob", spec.Name, err.Error())
				}
				return changed, errdefs.ExternalUnavailable("longhorn API", err)
			}
			r.log.Info("Created recurring job", "name", spec.Name, "cron", spec.Cron, "retain", spec.Retain)
			changed = append(changed, spec.Name)

		case err != nil:
			return changed, errdefs.ExternalUnavailable("longhorn API", err)

		case !reflect.DeepEqual(existing.Spec, desired):
			patched := existing.DeepCopy()
			patched.Spec = desired
			if err := r.client.Patch(ctx, patched, client.MergeFrom(existing)); err != nil {
				if apierrors.IsConflict(err) {
					return changed, errdefs.Conflict("recurringjob", spec.Name, err.Error())
				}
				return changed, errdefs.ExternalUnavailable("longhorn API", err)
			}
			r.log.Info("Updated recurring job", "name", spec.Name, "cron", spec.Cron, "retain", spec.Retain)
			changed = append(changed, spec.Name)
		}
	}

	return changed, nil
}
