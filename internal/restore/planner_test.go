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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	"sigs.k8s.io/controller-runtime/pkg/log"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/catalog"
	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

const lhNamespace = "longhorn-system"

func completedBackup(name, volume string, sizeBytes string) *lhv1beta2.Backup {
	return backupInState(name, volume, lhv1beta2.BackupStateCompleted, sizeBytes)
}

func backupInState(name, volume string, state lhv1beta2.BackupState, sizeBytes string) *lhv1beta2.Backup {
	return &lhv1beta2.Backup{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: lhNamespace,
			Name:      name,
			Labels:    map[string]string{lhv1beta2.BackupVolumeLabel: volume},
		},
		Status: lhv1beta2.BackupStatus{
			State:           state,
			VolumeName:      volume,
			BackupCreatedAt: "2025-05-01T00:00:00Z",
			Size:            sizeBytes,
			URL:             "s3://backups@us-east-1/?backup=" + name + "&volume=" + volume,
		},
	}
}

func boundClaim(namespace, name, volumeName, size string) *corev1.PersistentVolumeClaim {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: corev1.PersistentVolumeClaimSpec{
			VolumeName:       volumeName,
			StorageClassName: ptr.To("longhorn"),
		},
	}
	if size != "" {
		pvc.Spec.Resources = corev1.VolumeResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceStorage: resource.MustParse(size),
			},
		}
	}
	return pvc
}

func newPlanner(c client.Client, policy FallbackPolicy) *Planner {
	cat := catalog.NewReader(c, lhNamespace, log.Log)
	return NewPlanner(c, cat, lhNamespace, resource.MustParse("10Gi"), policy, log.Log)
}

var _ = Describe("Planner", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("size resolution", func() {
		DescribeTable("rounds backup sizes up to whole GiB",
			func(sizeBytes, want string) {
				c := fake.NewClientBuilder().
					WithScheme(testScheme).
					WithObjects(completedBackup("backup-a", "pvc-gone", sizeBytes)).
					Build()
				p := newPlanner(c, FallbackDefault)

				plan, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data", BackupID: "backup-a"})
				Expect(err).NotTo(HaveOccurred())
				Expect(plan.Size.String()).To(Equal(want))
			},
			Entry("exactly 5 GiB", "5368709120", "5Gi"),
			Entry("one byte over 5 GiB rounds up", "5368709121", "6Gi"),
			Entry("just under 1 GiB rounds up", "1073741823", "1Gi"),
		)

		It("prefers an explicit override over everything", func() {
			c := fake.NewClientBuilder().
				WithScheme(testScheme).
				WithObjects(
					boundClaim("prod", "pg-data", "pvc-abc", "8Gi"),
					completedBackup("backup-a", "pvc-abc", "5368709120"),
				).
				Build()
			p := newPlanner(c, FallbackDefault)

			plan, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data", OverrideSize: "20Gi"})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Size.String()).To(Equal("20Gi"))
		})

		It("prefers the live claim's request over the backup size", func() {
			c := fake.NewClientBuilder().
				WithScheme(testScheme).
				WithObjects(
					boundClaim("prod", "pg-data", "pvc-abc", "8Gi"),
					completedBackup("backup-a", "pvc-abc", "5368709120"),
				).
				Build()
			p := newPlanner(c, FallbackDefault)

			plan, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data"})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Size.String()).To(Equal("8Gi"))
		})

		It("falls back to the configured default when nothing resolves", func() {
			c := fake.NewClientBuilder().
				WithScheme(testScheme).
				WithObjects(completedBackup("backup-a", "pvc-gone", "")).
				Build()
			p := newPlanner(c, FallbackDefault)

			plan, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data", BackupID: "backup-a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Size.String()).To(Equal("10Gi"))
		})

		It("fails loudly under the fail policy when nothing resolves", func() {
			c := fake.NewClientBuilder().
				WithScheme(testScheme).
				WithObjects(completedBackup("backup-a", "pvc-gone", "")).
				Build()
			p := newPlanner(c, FallbackFail)

			_, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data", BackupID: "backup-a"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("backup resolution", func() {
		It("fails with AmbiguousSource when no live claim and no explicit id", func() {
			c := fake.NewClientBuilder().WithScheme(testScheme).Build()
			p := newPlanner(c, FallbackDefault)

			_, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data"})
			Expect(errdefs.IsAmbiguousSource(err)).To(BeTrue(), "got: %v", err)
		})

		It("fails with NotFound for an explicit id that does not exist", func() {
			c := fake.NewClientBuilder().WithScheme(testScheme).Build()
			p := newPlanner(c, FallbackDefault)

			_, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data", BackupID: "backup-missing"})
			Expect(errdefs.IsNotFound(err)).To(BeTrue(), "got: %v", err)
		})

		It("fails with NotFound when the volume has no Completed backup", func() {
			c := fake.NewClientBuilder().
				WithScheme(testScheme).
				WithObjects(
					boundClaim("prod", "pg-data", "pvc-abc", "8Gi"),
					backupInState("backup-a", "pvc-abc", lhv1beta2.BackupStateInProgress, "100"),
				).
				Build()
			p := newPlanner(c, FallbackDefault)

			_, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data"})
			Expect(errdefs.IsNotFound(err)).To(BeTrue(), "got: %v", err)
		})

		It("requires confirmation for a non-Completed explicit backup", func() {
			c := fake.NewClientBuilder().
				WithScheme(testScheme).
				WithObjects(backupInState("backup-a", "pvc-gone", lhv1beta2.BackupStateError, "5368709120")).
				Build()
			p := newPlanner(c, FallbackDefault)

			plan, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data", BackupID: "backup-a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.NeedsConfirmation).To(BeTrue())
			Expect(plan.ConfirmReason).To(ContainSubstring("Failed"))
		})
	})

	Describe("target conflict", func() {
		It("marks requiresReplace when the target claim exists", func() {
			c := fake.NewClientBuilder().
				WithScheme(testScheme).
				WithObjects(
					boundClaim("prod", "pg-data", "pvc-abc", "8Gi"),
					completedBackup("backup-a", "pvc-abc", "5368709120"),
				).
				Build()
			p := newPlanner(c, FallbackDefault)

			plan, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data"})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.RequiresReplace).To(BeTrue())

			fresh, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data", NewName: "pg-data-restored"})
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.RequiresReplace).To(BeFalse())
			Expect(fresh.TargetClaimName).To(Equal("pg-data-restored"))
		})
	})

	It("performs zero mutation while planning", func() {
		c := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(
				boundClaim("prod", "pg-data", "pvc-abc", "8Gi"),
				completedBackup("backup-a", "pvc-abc", "5368709120"),
			).
			Build()
		p := newPlanner(c, FallbackDefault)

		_, err := p.Plan(ctx, Request{Namespace: "prod", ClaimName: "pg-data", NewName: "pg-data-restored"})
		Expect(err).NotTo(HaveOccurred())

		var volumes lhv1beta2.VolumeList
		Expect(c.List(ctx, &volumes)).To(Succeed())
		Expect(volumes.Items).To(BeEmpty())

		var pvs corev1.PersistentVolumeList
		Expect(c.List(ctx, &pvs)).To(Succeed())
		Expect(pvs.Items).To(BeEmpty())
	})
})

var _ = Describe("Apply", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	plan := func() Plan {
		return Plan{
			TargetNamespace: "prod",
			TargetClaimName: "pg-data-restored",
			SourceBackupID:  "backup-a",
			SourceURL:       "s3://backups@us-east-1/?backup=backup-a&volume=pvc-abc",
			VolumeName:      "pg-data-restored",
			Size:            resource.MustParse("5Gi"),
			StorageClass:    "longhorn",
		}
	}

	It("denies a confirmation-required plan without mutating", func() {
		c := fake.NewClientBuilder().WithScheme(testScheme).Build()
		p := newPlanner(c, FallbackDefault)

		guarded := plan()
		guarded.NeedsConfirmation = true
		guarded.ConfirmReason = "backup backup-a is in state Failed and may be partial"

		_, err := p.Apply(ctx, guarded, ApplyOptions{Confirm: ConfirmNever, Timeout: time.Second, PollInterval: 10 * time.Millisecond})
		Expect(err).To(MatchError(ErrConfirmationDenied))

		var volumes lhv1beta2.VolumeList
		Expect(c.List(ctx, &volumes)).To(Succeed())
		Expect(volumes.Items).To(BeEmpty())
	})

	It("denies replace without confirmation and keeps the existing claim", func() {
		c := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(boundClaim("prod", "pg-data-restored", "pvc-old", "8Gi")).
			Build()
		p := newPlanner(c, FallbackDefault)

		replacing := plan()
		replacing.RequiresReplace = true

		_, err := p.Apply(ctx, replacing, ApplyOptions{Confirm: ConfirmNever, Timeout: time.Second, PollInterval: 10 * time.Millisecond})
		Expect(err).To(MatchError(ErrConfirmationDenied))

		existing := &corev1.PersistentVolumeClaim{}
		Expect(c.Get(ctx, client.ObjectKey{Namespace: "prod", Name: "pg-data-restored"}, existing)).To(Succeed())
		Expect(existing.Spec.VolumeName).To(Equal("pvc-old"))
	})

	It("creates volume, PV and pre-bound claim and reports bound", func() {
		// The fake client never runs a volume controller, so fake the claim
		// reaching Bound through a read interceptor.
		c := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithInterceptorFuncs(interceptor.Funcs{
				Get: func(ctx context.Context, cl client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
					if err := cl.Get(ctx, key, obj, opts...); err != nil {
						return err
					}
					if pvc, ok := obj.(*corev1.PersistentVolumeClaim); ok {
						pvc.Status.Phase = corev1.ClaimBound
					}
					return nil
				},
			}).
			Build()
		p := newPlanner(c, FallbackDefault)

		result, err := p.Apply(ctx, plan(), ApplyOptions{Confirm: ConfirmAlways, Timeout: time.Second, PollInterval: 10 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Bound).To(BeTrue())

		vol := &lhv1beta2.Volume{}
		Expect(c.Get(ctx, client.ObjectKey{Namespace: lhNamespace, Name: "pg-data-restored"}, vol)).To(Succeed())
		Expect(vol.Spec.FromBackup).To(Equal(plan().SourceURL))
		Expect(vol.Spec.Size).To(Equal(int64(5 * 1024 * 1024 * 1024)))

		pv := &corev1.PersistentVolume{}
		Expect(c.Get(ctx, client.ObjectKey{Name: "pg-data-restored"}, pv)).To(Succeed())
		Expect(pv.Spec.CSI.Driver).To(Equal(longhornCSIDriver))
		Expect(pv.Spec.CSI.VolumeHandle).To(Equal("pg-data-restored"))
	})

	It("surfaces a conflict when the restore volume already exists", func() {
		c := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(&lhv1beta2.Volume{
				ObjectMeta: metav1.ObjectMeta{Namespace: lhNamespace, Name: "pg-data-restored"},
			}).
			Build()
		p := newPlanner(c, FallbackDefault)

		_, err := p.Apply(ctx, plan(), ApplyOptions{Confirm: ConfirmAlways, Timeout: time.Second, PollInterval: 10 * time.Millisecond})
		Expect(errdefs.IsConflict(err)).To(BeTrue(), "got: %v", err)
	})

	It("stops waiting on timeout but leaves created resources in place", func() {
		c := fake.NewClientBuilder().WithScheme(testScheme).Build()
		p := newPlanner(c, FallbackDefault)

		result, err := p.Apply(ctx, plan(), ApplyOptions{Confirm: ConfirmAlways, Timeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond})
		Expect(err).To(HaveOccurred())
		Expect(result.Bound).To(BeFalse())

		// Everything created before the wait stays.
		vol := &lhv1beta2.Volume{}
		Expect(c.Get(ctx, client.ObjectKey{Namespace: lhNamespace, Name: "pg-data-restored"}, vol)).To(Succeed())
		pvc := &corev1.PersistentVolumeClaim{}
		Expect(c.Get(ctx, client.ObjectKey{Namespace: "prod", Name: "pg-data-restored"}, pvc)).To(Succeed())
	})
})
