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

package offsite

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/lhkeeper/longhorn-keeper/internal/catalog"
)

// AuditResult is the offsite reconciliation verdict for one volume.
// Missing means a Completed primary backup has no offsite copy past the
// grace period; Extra means an offsite object with no primary record.
// Extras are reported only, never deleted.
type AuditResult struct {
	VolumeID         string
	MissingBackupIDs []string
	ExtraBackupIDs   []string
}

// Auditor compares the primary backup catalog against the offsite listing.
type Auditor struct {
	catalog *catalog.Reader
	lister  Lister
	clock   clock.PassiveClock
	grace   time.Duration
	log     logr.Logger
}

// NewAuditor creates an Auditor. grace tolerates sync lag: a primary backup
// younger than grace is not reported missing even when absent offsite.
func NewAuditor(cat *catalog.Reader, lister Lister, clk clock.PassiveClock, grace time.Duration, log logr.Logger) *Auditor {
	return &Auditor{catalog: cat, lister: lister, clock: clk, grace: grace, log: log}
}

// GraceFromSchedule derives the default grace period, one sync interval,
// from the offsite sync cron schedule.
func GraceFromSchedule(schedule string) (time.Duration, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return 0, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	first := sched.Next(time.Now())
	second := sched.Next(first)
	return second.Sub(first), nil
}

// Audit reconciles the given volumes against the offsite listing. One
// listing call serves the whole batch.
func (a *Auditor) Audit(ctx context.Context, volumeIDs []string) ([]AuditResult, error) {
	entries, err := a.lister.List(ctx)
	if err != nil {
		return nil, err
	}

	offsite := groupByVolume(entries)
	deadline := a.clock.Now().Add(-a.grace)

	results := make([]AuditResult, 0, len(volumeIDs))
	for _, volumeID := range volumeIDs {
		primary, err := a.catalog.ListBackups(ctx, volumeID)
		if err != nil {
			return nil, err
		}

		stored := offsite[volumeID]
		if stored == nil {
			stored = sets.New[string]()
		}

		result := AuditResult{VolumeID: volumeID}
		known := sets.New[string]()
		for _, rec := range primary {
			known.Insert(rec.ID)
			if rec.State != catalog.StateCompleted {
				continue
			}
			if stored.Has(rec.ID) {
				continue
			}
			if rec.CreatedAt.After(deadline) {
				// Still inside the sync lag window.
				continue
			}
			result.MissingBackupIDs = append(result.MissingBackupIDs, rec.ID)
		}

		for _, id := range sets.List(stored) {
			if !known.Has(id) {
				result.ExtraBackupIDs = append(result.ExtraBackupIDs, id)
			}
		}

		results = append(results, result)
	}

	a.log.Info("Audited offsite copies", "volumes", len(volumeIDs), "offsiteObjects", len(entries))
	return results, nil
}

// groupByVolume indexes offsite entries by volume. Paths follow the
// backupstore layout: .../<volume>/backups/<backup artifact>.
func groupByVolume(entries []Entry) map[string]sets.Set[string] {
	grouped := map[string]sets.Set[string]{}
	for _, e := range entries {
		volumeID, backupID, ok := parsePath(e.Path)
		if !ok {
			continue
		}
		if grouped[volumeID] == nil {
			grouped[volumeID] = sets.New[string]()
		}
		grouped[volumeID].Insert(backupID)
	}
	return grouped
}

// parsePath extracts (volumeID, backupID) from an offsite logical path.
// Accepts both directory-per-backup layouts (.../vol/backups/backup-x/...)
// and flat config files (.../vol/backups/backup_backup-x.cfg).
func parsePath(p string) (volumeID, backupID string, ok bool) {
	segments := strings.Split(path.Clean(p), "/")
	for i := 1; i < len(segments)-1; i++ {
		if segments[i] != "backups" {
			continue
		}
		volumeID = segments[i-1]
		backupID = segments[i+1]
		backupID = strings.TrimSuffix(backupID, path.Ext(backupID))
		backupID = strings.TrimPrefix(backupID, "backup_")
		if volumeID != "" && backupID != "" {
			return volumeID, backupID, true
		}
	}
	return "", "", false
}
