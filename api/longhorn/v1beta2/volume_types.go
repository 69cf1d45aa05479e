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

// VolumeState is the lifecycle state of a Longhorn volume.
type VolumeState string

const (
	VolumeStateCreating  VolumeState = "creating"
	VolumeStateAttached  VolumeState = "attached"
	VolumeStateDetached  VolumeState = "detached"
	VolumeStateDeleting  VolumeState = "deleting"
)

// VolumeRecurringJob selects a recurring job or job group for a volume.
type VolumeRecurringJob struct {
	// Name of the recurring job or group.
	Name string `json:"name"`

	// IsGroup indicates Name refers to a job group rather than a single job.
	// +optional
	IsGroup bool `json:"isGroup"`
}

// VolumeSpec defines the desired state of a Longhorn volume. Only the fields
// the keeper reads or patches are mirrored.
type VolumeSpec struct {
	// Size of the volume in bytes, rendered as a decimal string by Longhorn.
	// +optional
	Size int64 `json:"size,string,omitempty"`

	// FromBackup is the backup URL to restore this volume from on creation.
	// +optional
	FromBackup string `json:"fromBackup,omitempty"`

	// NumberOfReplicas the volume is created with.
	// +optional
	NumberOfReplicas int `json:"numberOfReplicas,omitempty"`

	// Frontend of the volume, "blockdev" for CSI-consumed volumes.
	// +optional
	Frontend string `json:"frontend,omitempty"`

	// RecurringJobSelector names the recurring jobs scheduled for this volume.
	// +optional
	RecurringJobSelector []VolumeRecurringJob `json:"recurringJobSelector,omitempty"`
}

// VolumeStatus defines the observed state of a Longhorn volume.
type VolumeStatus struct {
	// +optional
	State VolumeState `json:"state,omitempty"`

	// +optional
	Robustness string `json:"robustness,omitempty"`

	// ActualSize is the space currently consumed, in bytes.
	// +optional
	ActualSize int64 `json:"actualSize,omitempty"`

	// LastBackup is the name of the most recent backup of this volume.
	// +optional
	LastBackup string `json:"lastBackup,omitempty"`

	// LastBackupAt is the RFC3339 timestamp of the most recent backup.
	// +optional
	LastBackupAt string `json:"lastBackupAt,omitempty"`

	// KubernetesStatus links the volume back to its PV and PVC.
	// +optional
	KubernetesStatus KubernetesStatus `json:"kubernetesStatus,omitempty"`
}

// KubernetesStatus records the Kubernetes objects bound to a volume.
type KubernetesStatus struct {
	// +optional
	PVName string `json:"pvName,omitempty"`
	// +optional
	PVCName string `json:"pvcName,omitempty"`
	// +optional
	Namespace string `json:"namespace,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=lhv
// +kubebuilder:printcolumn:name="State",type="string",JSONPath=".status.state"
// +kubebuilder:printcolumn:name="Last Backup",type="string",JSONPath=".status.lastBackup"

// Volume is the Schema for the Longhorn volumes API.
type Volume struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   VolumeSpec   `json:"spec,omitempty"`
	Status VolumeStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// VolumeList contains a list of Volume.
type VolumeList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Volume `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Volume{}, &VolumeList{})
}
