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

package v1beta2

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RecurringJobTask is the operation a recurring job performs.
type RecurringJobTask string

const (
	RecurringJobTaskBackup   RecurringJobTask = "backup"
	RecurringJobTaskSnapshot RecurringJobTask = "snapshot"
)

// RecurringJobSpec defines the desired state of a Longhorn recurring job.
type RecurringJobSpec struct {
	// Name of the recurring job, matched by volume recurring-job selectors.
	// +kubebuilder:validation:Required
	Name string `json:"name"`

	// Groups the job belongs to; volumes selecting a group run all its jobs.
	// +optional
	Groups []string `json:"groups,omitempty"`

	// Task performed on each run.
	// +kubebuilder:validation:Enum=backup;snapshot
	Task RecurringJobTask `json:"task"`

	// Cron schedule in standard five-field cron syntax.
	// +kubebuilder:validation:Required
	Cron string `json:"cron"`

	// Retain is the number of artifacts kept per volume.
	// +kubebuilder:validation:Minimum=1
	Retain int `json:"retain"`

	// Concurrency is the number of volumes processed in parallel.
	// +kubebuilder:validation:Minimum=1
	// +optional
	Concurrency int `json:"concurrency,omitempty"`

	// Labels are attached to the artifacts the job creates.
	// +optional
	Labels map[string]string `json:"labels,omitempty"`
}

// RecurringJobStatus defines the observed state of a Longhorn recurring job.
type RecurringJobStatus struct {
	// +optional
	OwnerID string `json:"ownerID,omitempty"`

	// +optional
	ExecutionCount int `json:"executionCount,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=lhrj
// +kubebuilder:printcolumn:name="Task",type="string",JSONPath=".spec.task"
// +kubebuilder:printcolumn:name="Cron",type="string",JSONPath=".spec.cron"
// +kubebuilder:printcolumn:name="Retain",type="integer",JSONPath=".spec.retain"

// RecurringJob is the Schema for the Longhorn recurring jobs API.
type RecurringJob struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RecurringJobSpec   `json:"spec,omitempty"`
	Status RecurringJobStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// RecurringJobList contains a list of RecurringJob.
type RecurringJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []RecurringJob `json:"items"`
}

func init() {
	SchemeBuilder.Register(&RecurringJob{}, &RecurringJobList{})
}
