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

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

const testNamespace = "longhorn-system"

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := lhv1beta2.AddToScheme(scheme); err != nil {
		t.Fatalf("building scheme: %v", err)
	}
	return scheme
}

func backup(name, volume string, state lhv1beta2.BackupState, createdAt, size string) *lhv1beta2.Backup {
	return &lhv1beta2.Backup{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: testNamespace,
			Name:      name,
			Labels:    map[string]string{lhv1beta2.BackupVolumeLabel: volume},
		},
		Status: lhv1beta2.BackupStatus{
			State:           state,
			VolumeName:      volume,
			BackupCreatedAt: createdAt,
			Size:            size,
			URL:             "s3://backups@us-east-1/?backup=" + name + "&volume=" + volume,
		},
	}
}

func newReader(t *testing.T, objs ...*lhv1beta2.Backup) *Reader {
	t.Helper()
	builder := fake.NewClientBuilder().WithScheme(newScheme(t))
	for _, b := range objs {
		builder = builder.WithObjects(b)
	}
	return NewReader(builder.Build(), testNamespace, logr.Discard())
}

func TestListBackupsOrdering(t *testing.T) {
	reader := newReader(t,
		backup("backup-c", "pvc-abc", lhv1beta2.BackupStateCompleted, "2025-03-01T00:00:00Z", "100"),
		backup("backup-a", "pvc-abc", lhv1beta2.BackupStateCompleted, "2025-01-01T00:00:00Z", "100"),
		backup("backup-b", "pvc-abc", lhv1beta2.BackupStateCompleted, "2025-02-01T00:00:00Z", "100"),
		backup("backup-other", "pvc-xyz", lhv1beta2.BackupStateCompleted, "2025-01-15T00:00:00Z", "100"),
	)

	records, err := reader.ListBackups(context.Background(), "pvc-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, want := range []string{"backup-a", "backup-b", "backup-c"} {
		if records[i].ID != want {
			t.Errorf("position %d: got %q, want %q", i, records[i].ID, want)
		}
	}
	for i := 1; i < len(records); i++ {
		if records[i].CreatedAt.Before(records[i-1].CreatedAt) {
			t.Error("expected non-decreasing createdAt ordering")
		}
	}
}

func TestListBackupsTieBreakByID(t *testing.T) {
	// Coarse backupstore timestamps can collide; ordering must stay
	// deterministic via the lexicographic id tie-break.
	ts := "2025-06-01T12:00:00Z"
	reader := newReader(t,
		backup("backup-zz", "pvc-abc", lhv1beta2.BackupStateCompleted, ts, "100"),
		backup("backup-aa", "pvc-abc", lhv1beta2.BackupStateCompleted, ts, "100"),
		backup("backup-mm", "pvc-abc", lhv1beta2.BackupStateCompleted, ts, "100"),
	)

	records, err := reader.ListBackups(context.Background(), "pvc-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []string{"backup-aa", "backup-mm", "backup-zz"} {
		if records[i].ID != want {
			t.Errorf("position %d: got %q, want %q", i, records[i].ID, want)
		}
	}
}

func TestLatestSkipsNonCompleted(t *testing.T) {
	reader := newReader(t,
		backup("backup-a", "pvc-abc", lhv1beta2.BackupStateCompleted, "2025-01-01T00:00:00Z", "100"),
		backup("backup-b", "pvc-abc", lhv1beta2.BackupStateInProgress, "2025-02-01T00:00:00Z", "100"),
		backup("backup-c", "pvc-abc", lhv1beta2.BackupStateError, "2025-03-01T00:00:00Z", "100"),
	)

	latest, err := reader.Latest(context.Background(), "pvc-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.ID != "backup-a" {
		t.Errorf("expected backup-a (newest Completed), got %q", latest.ID)
	}
}

func TestLatestNotFoundWhenNoneCompleted(t *testing.T) {
	reader := newReader(t,
		backup("backup-a", "pvc-abc", lhv1beta2.BackupStatePending, "2025-01-01T00:00:00Z", "100"),
		backup("backup-b", "pvc-abc", lhv1beta2.BackupStateError, "2025-02-01T00:00:00Z", "100"),
	)

	if _, err := reader.Latest(context.Background(), "pvc-abc"); !errdefs.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := reader.Latest(context.Background(), "pvc-empty"); !errdefs.IsNotFound(err) {
		t.Errorf("expected NotFound for unknown volume, got %v", err)
	}
}

func TestGetMapsStateAndFields(t *testing.T) {
	reader := newReader(t,
		backup("backup-a", "pvc-abc", lhv1beta2.BackupStateError, "2025-01-01T00:00:00Z", "5368709121"),
	)

	rec, err := reader.Get(context.Background(), "backup-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State != StateFailed {
		t.Errorf("expected Error mapped to Failed, got %q", rec.State)
	}
	if rec.SizeBytes != 5368709121 {
		t.Errorf("expected size parsed, got %d", rec.SizeBytes)
	}
	if rec.VolumeID != "pvc-abc" {
		t.Errorf("expected volume id, got %q", rec.VolumeID)
	}
	if !rec.CreatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected parsed timestamp, got %v", rec.CreatedAt)
	}

	if _, err := reader.Get(context.Background(), "backup-missing"); !errdefs.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestStateFrom(t *testing.T) {
	tests := []struct {
		in   lhv1beta2.BackupState
		want State
	}{
		{lhv1beta2.BackupStateNew, StatePending},
		{lhv1beta2.BackupStatePending, StatePending},
		{lhv1beta2.BackupStateInProgress, StateInProgress},
		{lhv1beta2.BackupStateCompleted, StateCompleted},
		{lhv1beta2.BackupStateError, StateFailed},
		{lhv1beta2.BackupState("something-new"), StateUnknown},
	}

	for _, tt := range tests {
		if got := stateFrom(tt.in); got != tt.want {
			t.Errorf("stateFrom(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
