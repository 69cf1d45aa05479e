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
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lhkeeper/longhorn-keeper/internal/notify"
)

var auditCmd = &cobra.Command{
	Use:   "audit [namespace] [claim]",
	Short: "Audit the offsite copy against the primary backup catalog",
	Long: `Audit the offsite copy against the primary backup catalog.

Completed backups older than the grace period that are absent offsite are
reported as missing; offsite objects with no primary record are reported
as extra. The grace period defaults to one interval of the configured sync
schedule.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		app, err := newApp()
		if err != nil {
			return err
		}

		enrolled, err := app.tracker().List(ctx)
		if err != nil {
			return err
		}
		enrolled = filterEnrolled(enrolled, args)

		var volumeIDs []string
		for _, ev := range enrolled {
			if ev.VolumeID != "" {
				volumeIDs = append(volumeIDs, ev.VolumeID)
			}
		}
		if len(volumeIDs) == 0 {
			fmt.Println("No bound enrolled volumes to audit")
			return nil
		}

		auditor, err := app.auditor()
		if err != nil {
			return err
		}
		results, err := auditor.Audit(ctx, volumeIDs)
		if err != nil {
			app.post(ctx, notify.KindFailure, "audit", err.Error(), nil)
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "VOLUME\tMISSING OFFSITE\tEXTRA OFFSITE")
		missingTotal := 0
		for _, result := range results {
			missingTotal += len(result.MissingBackupIDs)
			fmt.Fprintf(w, "%s\t%s\t%s\n", result.VolumeID,
				joinOrDash(result.MissingBackupIDs), joinOrDash(result.ExtraBackupIDs))
		}
		w.Flush()

		if missingTotal > 0 {
			app.post(ctx, notify.KindWarning, "audit",
				fmt.Sprintf("%d backup(s) missing from the offsite copy", missingTotal),
				map[string]string{"missing": fmt.Sprint(missingTotal)})
		}
		return nil
	},
}

func joinOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}
