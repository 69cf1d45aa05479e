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

// Package offsite audits and drives the encrypted offsite copy of the
// backupstore. Listing and syncing are delegated to rclone, which handles
// decryption transparently for crypt remotes; plain S3/B2 remotes can be
// listed directly through the bucket lister instead.
package offsite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"

	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

// Entry is one object in the offsite store, identified by its decrypted
// logical path.
type Entry struct {
	Path string
	Size int64
}

// Lister enumerates the offsite store.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// Syncer pushes the local backupstore to the offsite remote and removes
// individual backups from it.
type Syncer interface {
	Sync(ctx context.Context, localDir string) error
	DeleteBackup(ctx context.Context, volumeID, backupID string) error
}

// Rclone wraps the rclone CLI for a single configured remote.
type Rclone struct {
	binary string
	remote string
	log    logr.Logger
}

// NewRclone creates an rclone wrapper. remote is an rclone remote path such
// as "b2-crypt:backups"; binary defaults to "rclone" when empty.
func NewRclone(binary, remote string, log logr.Logger) *Rclone {
	if binary == "" {
		binary = "rclone"
	}
	return &Rclone{binary: binary, remote: remote, log: log}
}

func (r *Rclone) run(ctx context.Context, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.V(1).Info("executing rclone command", "args", strings.Join(args, " "))

	err := cmd.Run()
	if err != nil {
		r.log.Error(err, "rclone command failed", "stderr", stderr.String())
	}

	return stdout.Bytes(), stderr.Bytes(), err
}

// List enumerates the remote recursively. rclone decrypts crypt-remote names
// before reporting them, so paths here are logical backupstore paths.
func (r *Rclone) List(ctx context.Context) ([]Entry, error) {
	args := []string{"lsjson", "-R", "--files-only", r.remote}
	stdout, stderr, err := r.run(ctx, args)
	if err != nil {
		return nil, errdefs.ExternalUnavailable("rclone", fmt.Errorf("lsjson %s: %w: %s", r.remote, err, string(stderr)))
	}

	var raw []struct {
		Path  string `json:"Path"`
		Size  int64  `json:"Size"`
		IsDir bool   `json:"IsDir"`
	}
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rclone listing: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.IsDir {
			continue
		}
		entries = append(entries, Entry{Path: e.Path, Size: e.Size})
	}

	return entries, nil
}

// Sync replicates the local backupstore directory to the remote.
func (r *Rclone) Sync(ctx context.Context, localDir string) error {
	args := []string{"sync", localDir, r.remote}
	_, stderr, err := r.run(ctx, args)
	if err != nil {
		return errdefs.ExternalUnavailable("rclone", fmt.Errorf("sync %s to %s: %w: %s", localDir, r.remote, err, string(stderr)))
	}

	r.log.Info("Synced backupstore to offsite remote", "localDir", localDir, "remote", r.remote)
	return nil
}

// DeleteBackup removes one backup's directory from the remote. Used by
// unenroll --delete-backups only; the auditor never deletes.
func (r *Rclone) DeleteBackup(ctx context.Context, volumeID, backupID string) error {
	path := fmt.Sprintf("%s/%s/backups/%s", r.remote, volumeID, backupID)
	args := []string{"purge", path}
	_, stderr, err := r.run(ctx, args)
	if err != nil {
		return errdefs.ExternalUnavailable("rclone", fmt.Errorf("purge %s: %w: %s", path, err, string(stderr)))
	}

	r.log.Info("Deleted offsite backup copy", "volume", volumeID, "backup", backupID)
	return nil
}
