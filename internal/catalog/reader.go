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

// Package catalog reads the Longhorn backup catalog. Backup objects are
// owned by the Longhorn controller and mirrored read-only into BackupRecord
// values; the reader never mutates cluster state.
package catalog

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

// State is the lifecycle state of a backup record.
type State string

const (
	StatePending    State = "Pending"
	StateInProgress State = "InProgress"
	StateCompleted  State = "Completed"
	StateFailed     State = "Failed"
	StateUnknown    State = "Unknown"
)

// BackupRecord is a read-only mirror of one Longhorn backup. Records in
// state Completed are immutable on the Longhorn side.
type BackupRecord struct {
	ID        string
	VolumeID  string
	CreatedAt time.Time
	SizeBytes int64
	State     State
	SourceURL string
}

// Reader queries Longhorn Backup objects.
type Reader struct {
	client    client.Client
	namespace string
	log       logr.Logger
}

// NewReader creates a Reader. namespace is where Longhorn keeps its Backup
// objects, normally longhorn-system.
func NewReader(c client.Client, namespace string, log logr.Logger) *Reader {
	return &Reader{client: c, namespace: namespace, log: log}
}

// ListBackups returns all backup records for a volume, ordered by creation
// time ascending. Records sharing a timestamp are ordered by id so the
// result is deterministic even with coarse backupstore timestamps.
func (r *Reader) ListBackups(ctx context.Context, volumeID string) ([]BackupRecord, error) {
	var backups lhv1beta2.BackupList
	err := r.client.List(ctx, &backups,
		client.InNamespace(r.namespace),
		client.MatchingLabels{lhv1beta2.BackupVolumeLabel: volumeID})
	if err != nil {
		return nil, errdefs.ExternalUnavailable("longhorn API", err)
	}

	records := make([]BackupRecord, 0, len(backups.Items))
	for i := range backups.Items {
		records = append(records, r.recordFrom(&backups.Items[i]))
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	return records, nil
}

// Latest returns the most recent Completed backup for a volume. Records in
// any other state are ignored; NotFound is returned when none qualify.
func (r *Reader) Latest(ctx context.Context, volumeID string) (BackupRecord, error) {
	records, err := r.ListBackups(ctx, volumeID)
	if err != nil {
		return BackupRecord{}, err
	}

	for i := len(records) - 1; i >= 0; i-- {
		if records[i].State == StateCompleted {
			return records[i], nil
		}
	}

	return BackupRecord{}, errdefs.NotFound("completed backup for volume", volumeID)
}

// Get returns the backup record with the given id regardless of state.
func (r *Reader) Get(ctx context.Context, backupID string) (BackupRecord, error) {
	backup := &lhv1beta2.Backup{}
	key := client.ObjectKey{Namespace: r.namespace, Name: backupID}
	if err := r.client.Get(ctx, key, backup); err != nil {
		if client.IgnoreNotFound(err) == nil {
			return BackupRecord{}, errdefs.NotFound("backup", backupID)
		}
		return BackupRecord{}, errdefs.ExternalUnavailable("longhorn API", err)
	}
	return r.recordFrom(backup), nil
}

func (r *Reader) recordFrom(b *lhv1beta2.Backup) BackupRecord {
	rec := BackupRecord{
		ID:        b.Name,
		VolumeID:  b.Status.VolumeName,
		State:     stateFrom(b.Status.State),
		SourceURL: b.Status.URL,
	}

	// Older Longhorn releases leave Status.VolumeName empty; the label is
	// always present.
	if rec.VolumeID == "" {
		rec.VolumeID = b.Labels[lhv1beta2.BackupVolumeLabel]
	}

	if b.Status.BackupCreatedAt != "" {
		ts, err := time.Parse(time.RFC3339, b.Status.BackupCreatedAt)
		if err != nil {
			r.log.V(1).Info("Unparseable backup timestamp", "backup", b.Name, "value", b.Status.BackupCreatedAt)
		} else {
			rec.CreatedAt = ts
		}
	}

	if b.Status.Size != "" {
		size, err := strconv.ParseInt(b.Status.Size, 10, 64)
		if err != nil {
			r.log.V(1).Info("Unparseable backup size", "backup", b.Name, "value", b.Status.Size)
		} else {
			rec.SizeBytes = size
		}
	}

	return rec
}

func stateFrom(s lhv1beta2.BackupState) State {
	switch s {
	case lhv1beta2.BackupStateNew, lhv1beta2.BackupStatePending:
		return StatePending
	case lhv1beta2.BackupStateInProgress:
		return StateInProgress
	case lhv1beta2.BackupStateCompleted:
		return StateCompleted
	case lhv1beta2.BackupStateError:
		return StateFailed
	default:
		return StateUnknown
	}
}
