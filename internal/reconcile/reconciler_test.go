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
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	"sigs.k8s.io/controller-runtime/pkg/log"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/inventory"
)

const lhNamespace = "longhorn-system"

func lhVolume(name string, selector ...lhv1beta2.VolumeRecurringJob) *lhv1beta2.Volume {
	return &lhv1beta2.Volume{
		ObjectMeta: metav1.ObjectMeta{Namespace: lhNamespace, Name: name},
		Spec:       lhv1beta2.VolumeSpec{RecurringJobSelector: selector},
	}
}

func enrolledVolume(volumeID string, tier inventory.Tier) inventory.EnrolledVolume {
	return inventory.EnrolledVolume{
		Namespace: "prod",
		ClaimName: "claim-" + volumeID,
		VolumeID:  volumeID,
		Tier:      tier,
	}
}

func managedSelector(ctx context.Context, c client.Client, name string) []string {
	vol := &lhv1beta2.Volume{}
	Expect(c.Get(ctx, client.ObjectKey{Namespace: lhNamespace, Name: name}, vol)).To(Succeed())

	var names []string
	for _, job := range vol.Spec.RecurringJobSelector {
		names = append(names, job.Name)
	}
	return names
}

var _ = Describe("Reconciler", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("tier to job set mapping", func() {
		DescribeTable("applies exactly the tier's job set",
			func(tier inventory.Tier, want []string) {
				c := fake.NewClientBuilder().
					WithScheme(testScheme).
					WithObjects(lhVolume("pvc-abc")).
					Build()
				r := NewReconciler(c, lhNamespace, log.Log)

				result, err := r.Reconcile(ctx, []inventory.EnrolledVolume{enrolledVolume("pvc-abc", tier)})
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Failures).To(BeEmpty())
				Expect(result.Applied).To(HaveLen(1))
				Expect(result.Applied[0].VolumeID).To(Equal("pvc-abc"))
				Expect(result.Applied[0].JobNames).To(Equal(want))
				Expect(managedSelector(ctx, c, "pvc-abc")).To(ConsistOf(want))
			},
			Entry("daily", inventory.TierDaily, []string{JobDaily}),
			Entry("weekly", inventory.TierWeekly, []string{JobWeekly}),
			Entry("both", inventory.TierBoth, []string{JobDaily, JobWeekly}),
		)
	})

	It("is idempotent: a second run with unchanged input applies nothing", func() {
		c := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(lhVolume("pvc-abc"), lhVolume("pvc-def")).
			Build()
		r := NewReconciler(c, lhNamespace, log.Log)

		enrolled := []inventory.EnrolledVolume{
			enrolledVolume("pvc-abc", inventory.TierBoth),
			enrolledVolume("pvc-def", inventory.TierDaily),
		}

		first, err := r.Reconcile(ctx, enrolled)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Applied).To(HaveLen(2))

		second, err := r.Reconcile(ctx, enrolled)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Applied).To(BeEmpty())
		Expect(second.Failures).To(BeEmpty())
	})

	It("clears managed jobs from volumes no longer enrolled", func() {
		c := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(lhVolume("pvc-abc")).
			Build()
		r := NewReconciler(c, lhNamespace, log.Log)

		_, err := r.Reconcile(ctx, []inventory.EnrolledVolume{enrolledVolume("pvc-abc", inventory.TierBoth)})
		Expect(err).NotTo(HaveOccurred())
		Expect(managedSelector(ctx, c, "pvc-abc")).To(ConsistOf(JobDaily, JobWeekly))

		result, err := r.Reconcile(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Applied).To(HaveLen(1))
		Expect(result.Applied[0].JobNames).To(BeEmpty())
		Expect(managedSelector(ctx, c, "pvc-abc")).To(BeEmpty())
	})

	It("preserves recurring jobs the keeper does not manage", func() {
		c := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(lhVolume("pvc-abc",
				lhv1beta2.VolumeRecurringJob{Name: "nightly-snapshot"},
				lhv1beta2.VolumeRecurringJob{Name: "default", IsGroup: true},
			)).
			Build()
		r := NewReconciler(c, lhNamespace, log.Log)

		_, err := r.Reconcile(ctx, []inventory.EnrolledVolume{enrolledVolume("pvc-abc", inventory.TierDaily)})
		Expect(err).NotTo(HaveOccurred())
		Expect(managedSelector(ctx, c, "pvc-abc")).To(ConsistOf("nightly-snapshot", "default", JobDaily))

		_, err = r.Reconcile(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(managedSelector(ctx, c, "pvc-abc")).To(ConsistOf("nightly-snapshot", "default"))
	})

	It("skips enrollments whose claim is not yet bound", func() {
		c := fake.NewClientBuilder().WithScheme(testScheme).Build()
		r := NewReconciler(c, lhNamespace, log.Log)

		result, err := r.Reconcile(ctx, []inventory.EnrolledVolume{
			{Namespace: "prod", ClaimName: "pending", Tier: inventory.TierDaily},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Applied).To(BeEmpty())
		Expect(result.Failures).To(BeEmpty())
	})

	It("records a failure for enrolled volumes that do not exist", func() {
		c := fake.NewClientBuilder().WithScheme(testScheme).Build()
		r := NewReconciler(c, lhNamespace, log.Log)

		result, err := r.Reconcile(ctx, []inventory.EnrolledVolume{enrolledVolume("pvc-gone", inventory.TierDaily)})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failures).To(HaveLen(1))
		Expect(result.Failures[0].Item).To(Equal("pvc-gone"))
	})

	It("continues the batch when one volume fails to patch", func() {
		patchErr := errors.New("admission webhook denied the request")
		c := fake.NewClientBuilder().
			WithScheme(testScheme).
			WithObjects(lhVolume("pvc-bad"), lhVolume("pvc-good")).
			WithInterceptorFuncs(interceptor.Funcs{
				Patch: func(ctx context.Context, cl client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
					if obj.GetName() == "pvc-bad" {
						return patchErr
					}
					return cl.Patch(ctx, obj, patch, opts...)
				},
			}).
			Build()
		r := NewReconciler(c, lhNamespace, log.Log)

		result, err := r.Reconcile(ctx, []inventory.EnrolledVolume{
			enrolledVolume("pvc-bad", inventory.TierDaily),
			enrolledVolume("pvc-good", inventory.TierWeekly),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failures).To(HaveLen(1))
		Expect(result.Failures[0].Item).To(Equal("pvc-bad"))
		Expect(result.Applied).To(HaveLen(1))
		Expect(result.Applied[0].VolumeID).To(Equal("pvc-good"))
		Expect(managedSelector(ctx, c, "pvc-good")).To(ConsistOf(JobWeekly))
	})

	Describe("EnsureRecurringJobs", func() {
		var specs []JobSpec

		BeforeEach(func() {
			specs = []JobSpec{
				{Name: JobDaily, Cron: "0 2 * * *", Retain: 7},
				{Name: JobWeekly, Cron: "0 3 * * 0", Retain: 4},
			}
		})

		It("creates missing jobs and is idempotent", func() {
			c := fake.NewClientBuilder().WithScheme(testScheme).Build()
			r := NewReconciler(c, lhNamespace, log.Log)

			changed, err := r.EnsureRecurringJobs(ctx, specs)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(ConsistOf(JobDaily, JobWeekly))

			job := &lhv1beta2.RecurringJob{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: lhNamespace, Name: JobDaily}, job)).To(Succeed())
			Expect(job.Spec.Task).To(Equal(lhv1beta2.RecurringJobTaskBackup))
			Expect(job.Spec.Cron).To(Equal("0 2 * * *"))
			Expect(job.Spec.Retain).To(Equal(7))

			changed, err = r.EnsureRecurringJobs(ctx, specs)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeEmpty())
		})

		It("updates jobs whose schedule drifted", func() {
			c := fake.NewClientBuilder().WithScheme(testScheme).Build()
			r := NewReconciler(c, lhNamespace, log.Log)

			_, err := r.EnsureRecurringJobs(ctx, specs)
			Expect(err).NotTo(HaveOccurred())

			specs[0].Cron = "30 1 * * *"
			changed, err := r.EnsureRecurringJobs(ctx, specs)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(ConsistOf(JobDaily))

			job := &lhv1beta2.RecurringJob{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: lhNamespace, Name: JobDaily}, job)).To(Succeed())
			Expect(job.Spec.Cron).To(Equal("30 1 * * *"))
		})

		It("rejects invalid cron expressions", func() {
			c := fake.NewClientBuilder().WithScheme(testScheme).Build()
			r := NewReconciler(c, lhNamespace, log.Log)

			_, err := r.EnsureRecurringJobs(ctx, []JobSpec{{Name: JobDaily, Cron: "not-a-cron", Retain: 7}})
			Expect(err).To(HaveOccurred())
		})

		It("rejects job names it does not manage", func() {
			c := fake.NewClientBuilder().WithScheme(testScheme).Build()
			r := NewReconciler(c, lhNamespace, log.Log)

			_, err := r.EnsureRecurringJobs(ctx, []JobSpec{{Name: "monthly-backup", Cron: "0 0 1 * *", Retain: 1}})
			Expect(err).To(HaveOccurred())
		})
	})
})
