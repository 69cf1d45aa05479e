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

package restore

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/ptr"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

// longhornCSIDriver is the CSI driver name static restore PVs bind through.
const longhornCSIDriver = "driver.longhorn.io"

// ConfirmFunc decides whether a guarded action proceeds. Callers inject a
// strategy: interactive prompt, always-confirm for --yes, always-deny for
// tests and dry automation.
type ConfirmFunc func(reason string) bool

// ConfirmAlways approves every guarded action.
func ConfirmAlways(string) bool { return true }

// ConfirmNever denies every guarded action.
func ConfirmNever(string) bool { return false }

// ApplyOptions tune the apply step.
type ApplyOptions struct {
	// Confirm gates non-Completed sources and replace-by-name. Required.
	Confirm ConfirmFunc
	// Timeout bounds the wait for the restored claim to bind. Zero means
	// 600 seconds.
	Timeout time.Duration
	// PollInterval between bound checks. Zero means 5 seconds.
	PollInterval time.Duration
}

// ApplyResult reports what Apply created.
type ApplyResult struct {
	VolumeName string
	PVName     string
	ClaimName  string
	Bound      bool
}

// ErrConfirmationDenied is returned when the confirmation strategy rejects a
// guarded action. No mutation has happened at that point.
var ErrConfirmationDenied = fmt.Errorf("confirmation denied")

// Apply executes a restore plan: a Longhorn volume restored from the backup
// URL, a static PV on top of it and a pre-bound PVC. It then waits, bounded
// by the timeout, for the claim to bind. Cancelling the context stops the
// wait only; everything created stays in place since the Longhorn controller
// keeps provisioning regardless.
func (p *Planner) Apply(ctx context.Context, plan Plan, opts ApplyOptions) (ApplyResult, error) {
	if opts.Confirm == nil {
		opts.Confirm = ConfirmNever
	}
	if opts.Timeout == 0 {
		opts.Timeout = 600 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}

	if plan.NeedsConfirmation && !opts.Confirm(plan.ConfirmReason) {
		return ApplyResult{}, fmt.Errorf("restoring from %s: %w", plan.SourceBackupID, ErrConfirmationDenied)
	}

	if plan.RequiresReplace {
		reason := fmt.Sprintf("claim %s/%s already exists and will be deleted", plan.TargetNamespace, plan.TargetClaimName)
		if !opts.Confirm(reason) {
			return ApplyResult{}, fmt.Errorf("replacing %s/%s: %w", plan.TargetNamespace, plan.TargetClaimName, ErrConfirmationDenied)
		}
		if err := p.deleteClaim(ctx, plan.TargetNamespace, plan.TargetClaimName); err != nil {
			return ApplyResult{}, err
		}
	}

	result := ApplyResult{
		VolumeName: plan.VolumeName,
		PVName:     plan.VolumeName,
		ClaimName:  plan.TargetClaimName,
	}

	if err := p.createVolume(ctx, plan); err != nil {
		return result, err
	}
	if err := p.createPV(ctx, plan); err != nil {
		return result, err
	}
	if err := p.createClaim(ctx, plan); err != nil {
		return result, err
	}

	p.log.Info("Created restore resources, waiting for claim to bind",
		"namespace", plan.TargetNamespace, "claim", plan.TargetClaimName,
		"volume", plan.VolumeName, "timeout", opts.Timeout)

	bound, err := p.waitForBound(ctx, plan, opts)
	result.Bound = bound
	if err != nil {
		return result, fmt.Errorf("claim %s/%s not bound yet, created resources remain in place: %w",
			plan.TargetNamespace, plan.TargetClaimName, err)
	}

	return result, nil
}

func (p *Planner) deleteClaim(ctx context.Context, namespace, name string) error {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
	}
	if err := p.client.Delete(ctx, pvc); err != nil && !apierrors.IsNotFound(err) {
		return errdefs.ExternalUnavailable("cluster API", err)
	}
	p.log.Info("Deleted existing claim for replacement", "namespace", namespace, "claim", name)
	return nil
}

func (p *Planner) createVolume(ctx context.Context, plan Plan) error {
	vol := &lhv1beta2.Volume{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: p.lhNamespace,
			Name:      plan.VolumeName,
		},
		Spec: lhv1beta2.VolumeSpec{
			Size:             plan.Size.Value(),
			FromBackup:       plan.SourceURL,
			NumberOfReplicas: 3,
			Frontend:         "blockdev",
		},
	}
	if err := p.client.Create(ctx, vol); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return errdefs.Conflict("volume", plan.VolumeName, "already exists")
		}
		return errdefs.ExternalUnavailable("longhorn API", err)
	}
	return nil
}

func (p *Planner) createPV(ctx context.Context, plan Plan) error {
	pv := &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{
			Name: plan.VolumeName,
		},
		Spec: corev1.PersistentVolumeSpec{
			Capacity: corev1.ResourceList{
				corev1.ResourceStorage: plan.Size,
			},
			AccessModes:                   []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			PersistentVolumeReclaimPolicy: corev1.PersistentVolumeReclaimRetain,
			StorageClassName:              plan.StorageClass,
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				CSI: &corev1.CSIPersistentVolumeSource{
					Driver:       longhornCSIDriver,
					VolumeHandle: plan.VolumeName,
					FSType:       "ext4",
				},
			},
			ClaimRef: &corev1.ObjectReference{
				Namespace: plan.TargetNamespace,
				Name:      plan.TargetClaimName,
			},
		},
	}
	if err := p.client.Create(ctx, pv); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return errdefs.Conflict("persistentvolume", plan.VolumeName, "already exists")
		}
		return errdefs.ExternalUnavailable("cluster API", err)
	}
	return nil
}

func (p *Planner) createClaim(ctx context.Context, plan Plan) error {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: plan.TargetNamespace,
			Name:      plan.TargetClaimName,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: ptr.To(plan.StorageClass),
			VolumeName:       plan.VolumeName,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: plan.Size,
				},
			},
		},
	}
	if err := p.client.Create(ctx, pvc); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return errdefs.Conflict("persistentvolumeclaim", plan.TargetNamespace+"/"+plan.TargetClaimName, "already exists")
		}
		return errdefs.ExternalUnavailable("cluster API", err)
	}
	return nil
}

func (p *Planner) waitForBound(ctx context.Context, plan Plan, opts ApplyOptions) (bool, error) {
	bound := false
	err := wait.PollUntilContextTimeout(ctx, opts.PollInterval, opts.Timeout, true,
		func(ctx context.Context) (bool, error) {
			pvc := &corev1.PersistentVolumeClaim{}
			key := types.NamespacedName{Namespace: plan.TargetNamespace, Name: plan.TargetClaimName}
			if err := p.client.Get(ctx, key, pvc); err != nil {
				// Transient read errors just mean another poll.
				return false, nil
			}
			bound = pvc.Status.Phase == corev1.ClaimBound
			return bound, nil
		})
	return bound, err
}
