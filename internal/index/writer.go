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

// Package index regenerates backup-index.json, the operator-facing summary
// of every enrolled claim and its backups. The file is replaced atomically
// so a concurrent reader never observes a truncated document.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/lhkeeper/longhorn-keeper/internal/catalog"
	"github.com/lhkeeper/longhorn-keeper/internal/inventory"
)

// BackupSummary is one backup line in the index.
type BackupSummary struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	SizeBytes int64     `json:"sizeBytes"`
}

// ClaimIndex is the index entry for one enrolled claim, backups ordered by
// creation time ascending.
type ClaimIndex struct {
	Namespace string          `json:"namespace"`
	ClaimName string          `json:"claimName"`
	VolumeID  string          `json:"volumeId"`
	Tier      string          `json:"tier"`
	Backups   []BackupSummary `json:"backups"`
}

// Document is the full backup-index.json payload.
type Document struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	Claims      []ClaimIndex `json:"claims"`
}

// Writer builds and writes the index.
type Writer struct {
	tracker *inventory.Tracker
	catalog *catalog.Reader
	log     logr.Logger
}

// NewWriter creates a Writer over the given tracker and catalog.
func NewWriter(tracker *inventory.Tracker, cat *catalog.Reader, log logr.Logger) *Writer {
	return &Writer{tracker: tracker, catalog: cat, log: log}
}

// Build assembles the index document from fresh cluster state. Claims come
// back in the tracker's stable namespace/name order, so repeated builds over
// unchanged state produce identical documents.
func (w *Writer) Build(ctx context.Context) (Document, error) {
	enrolled, err := w.tracker.List(ctx)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		GeneratedAt: time.Now().UTC(),
		Claims:      make([]ClaimIndex, 0, len(enrolled)),
	}

	for _, ev := range enrolled {
		entry := ClaimIndex{
			Namespace: ev.Namespace,
			ClaimName: ev.ClaimName,
			VolumeID:  ev.VolumeID,
			Tier:      string(ev.Tier),
			Backups:   []BackupSummary{},
		}

		if ev.VolumeID != "" {
			records, err := w.catalog.ListBackups(ctx, ev.VolumeID)
			if err != nil {
				return Document{}, fmt.Errorf("listing backups for %s/%s: %w", ev.Namespace, ev.ClaimName, err)
			}
			for _, rec := range records {
				entry.Backups = append(entry.Backups, BackupSummary{
					Name:      rec.ID,
					CreatedAt: rec.CreatedAt,
					SizeBytes: rec.SizeBytes,
				})
			}
		}

		doc.Claims = append(doc.Claims, entry)
	}

	return doc, nil
}

// Write builds the document and writes it to path atomically: marshal to a
// temp file in the target directory, fsync, rename over the destination.
func (w *Writer) Write(ctx context.Context, path string) error {
	doc, err := w.Build(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".backup-index-*.json")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp index file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing index file: %w", err)
	}

	w.log.Info("Wrote backup index", "path", path, "claims", len(doc.Claims))
	return nil
}
