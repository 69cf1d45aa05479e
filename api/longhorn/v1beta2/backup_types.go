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

// BackupState is the backup lifecycle state reported by Longhorn.
type BackupState string

const (
	BackupStateNew        BackupState = ""
	BackupStatePending    BackupState = "Pending"
	BackupStateInProgress BackupState = "InProgress"
	BackupStateCompleted  BackupState = "Completed"
	BackupStateError      BackupState = "Error"
	BackupStateUnknown    BackupState = "Unknown"
)

// BackupVolumeLabel is the label Longhorn places on Backup objects naming the
// volume the backup belongs to. Used for filter-by-label catalog queries.
const BackupVolumeLabel = "longhorn.io/backup-volume"

// BackupSpec defines the desired state of a Longhorn backup.
type BackupSpec struct {
	// SyncRequestedAt requests a resync of the backup from the backup target.
	// +optional
	SyncRequestedAt metav1.Time `json:"syncRequestedAt,omitempty"`

	// SnapshotName is the snapshot this backup was taken from.
	// +optional
	SnapshotName string `json:"snapshotName,omitempty"`

	// Labels are user labels recorded into the backup.
	// +optional
	Labels map[string]string `json:"labels,omitempty"`
}

// BackupStatus defines the observed state of a Longhorn backup.
type BackupStatus struct {
	// +optional
	OwnerID string `json:"ownerID,omitempty"`

	// State of the backup: Pending, InProgress, Completed, Error or Unknown.
	// +optional
	State BackupState `json:"state,omitempty"`

	// URL is the backupstore URL of the backup, usable as a restore source.
	// +optional
	URL string `json:"url,omitempty"`

	// SnapshotName is the snapshot the backup was taken from.
	// +optional
	SnapshotName string `json:"snapshotName,omitempty"`

	// SnapshotCreatedAt is the RFC3339 creation time of the source snapshot.
	// +optional
	SnapshotCreatedAt string `json:"snapshotCreatedAt,omitempty"`

	// BackupCreatedAt is the RFC3339 creation time of the backup itself.
	// +optional
	BackupCreatedAt string `json:"backupCreatedAt,omitempty"`

	// Size of the backup in bytes, as a decimal string.
	// +optional
	Size string `json:"size,omitempty"`

	// VolumeName is the volume the backup was taken from.
	// +optional
	VolumeName string `json:"volumeName,omitempty"`

	// VolumeSize is the nominal volume size in bytes, as a decimal string.
	// +optional
	VolumeSize string `json:"volumeSize,omitempty"`

	// Error holds the failure message when State is Error.
	// +optional
	Error string `json:"error,omitempty"`

	// +optional
	Messages map[string]string `json:"messages,omitempty"`

	// +optional
	Progress int `json:"progress,omitempty"`

	// +optional
	LastSyncedAt metav1.Time `json:"lastSyncedAt,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=lhb
// +kubebuilder:printcolumn:name="Volume",type="string",JSONPath=".status.volumeName"
// +kubebuilder:printcolumn:name="State",type="string",JSONPath=".status.state"
// +kubebuilder:printcolumn:name="Size",type="string",JSONPath=".status.size"

// Backup is the Schema for the Longhorn backups API.
type Backup struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   BackupSpec   `json:"spec,omitempty"`
	Status BackupStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// BackupList contains a list of Backup.
type BackupList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Backup `json:"items"`
}

// BackupVolumeSpec defines the desired state of a Longhorn backup volume.
type BackupVolumeSpec struct {
	// +optional
	SyncRequestedAt metav1.Time `json:"syncRequestedAt,omitempty"`
}

// BackupVolumeStatus defines the observed state of a Longhorn backup volume.
type BackupVolumeStatus struct {
	// +optional
	OwnerID string `json:"ownerID,omitempty"`
	// +optional
	Size string `json:"size,omitempty"`
	// +optional
	CreatedAt string `json:"createdAt,omitempty"`
	// +optional
	LastBackupName string `json:"lastBackupName,omitempty"`
	// +optional
	LastBackupAt string `json:"lastBackupAt,omitempty"`
	// +optional
	DataStored string `json:"dataStored,omitempty"`
	// +optional
	Messages map[string]string `json:"messages,omitempty"`
	// +optional
	LastSyncedAt metav1.Time `json:"lastSyncedAt,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=lhbv

// BackupVolume is the Schema for the Longhorn backup volumes API. One exists
// per volume that has at least one backup in the backupstore.
type BackupVolume struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   BackupVolumeSpec   `json:"spec,omitempty"`
	Status BackupVolumeStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// BackupVolumeList contains a list of BackupVolume.
type BackupVolumeList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []BackupVolume `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Backup{}, &BackupList{}, &BackupVolume{}, &BackupVolumeList{})
}
