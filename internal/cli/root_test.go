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

package cli

import (
	"fmt"
	"testing"

	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
	"github.com/lhkeeper/longhorn-keeper/internal/inventory"
	"github.com/lhkeeper/longhorn-keeper/internal/restore"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "not found", err: errdefs.NotFound("claim", "data"), want: 1},
		{name: "ambiguous source", err: errdefs.AmbiguousSource("apps", "data"), want: 1},
		{name: "conflict", err: errdefs.Conflict("volume", "pvc-1", "exists"), want: 1},
		{name: "denied confirmation", err: restore.ErrConfirmationDenied, want: 1},
		{name: "plain error", err: fmt.Errorf("bad flag"), want: 1},
		{name: "external unavailable", err: errdefs.ExternalUnavailable("rclone", fmt.Errorf("exit 1")), want: 2},
		{name: "wrapped external unavailable", err: fmt.Errorf("sync: %w", errdefs.ExternalUnavailable("rclone", fmt.Errorf("exit 1"))), want: 2},
		{
			name: "partial failure",
			err:  errdefs.PartialFailure("reconcile", []errdefs.ItemFailure{{Item: "pvc-1", Err: fmt.Errorf("patch failed")}}),
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFilterEnrolled(t *testing.T) {
	enrolled := []inventory.EnrolledVolume{
		{Namespace: "apps", ClaimName: "data"},
		{Namespace: "apps", ClaimName: "cache"},
		{Namespace: "media", ClaimName: "library"},
	}

	if got := filterEnrolled(enrolled, nil); len(got) != 3 {
		t.Errorf("no filter: got %d entries, want 3", len(got))
	}
	if got := filterEnrolled(enrolled, []string{"apps"}); len(got) != 2 {
		t.Errorf("namespace filter: got %d entries, want 2", len(got))
	}
	got := filterEnrolled(enrolled, []string{"apps", "cache"})
	if len(got) != 1 || got[0].ClaimName != "cache" {
		t.Errorf("claim filter: got %v", got)
	}
	if got := filterEnrolled(enrolled, []string{"missing"}); len(got) != 0 {
		t.Errorf("unknown namespace: got %v", got)
	}
}
