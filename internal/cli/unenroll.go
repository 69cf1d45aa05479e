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

	"github.com/spf13/cobra"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	lhv1beta2 "github.com/lhkeeper/longhorn-keeper/api/longhorn/v1beta2"
	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
	"github.com/lhkeeper/longhorn-keeper/internal/notify"
	"github.com/lhkeeper/longhorn-keeper/internal/restore"
)

var unenrollCmdFlags struct {
	deleteBackups bool
	yes           bool
}

var unenrollCmd = &cobra.Command{
	Use:   "unenroll <namespace> <claim>",
	Short: "Remove a claim from recurring backups",
	Long: `Remove a claim from recurring backups and clear its keeper-managed
recurring-job bindings. Backup records are kept unless --delete-backups is
given, which deletes the Longhorn Backup objects and the offsite copies
after confirmation.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		app, err := newApp()
		if err != nil {
			return err
		}
		tracker := app.tracker()

		removed, err := tracker.Unenroll(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Unenrolled %s/%s (was tier %s)\n", removed.Namespace, removed.ClaimName, removed.Tier)

		// Clear the volume's keeper-managed bindings right away instead of
		// waiting for the next reconcile run.
		remaining, err := tracker.List(ctx)
		if err != nil {
			return err
		}
		result, err := app.reconciler().Reconcile(ctx, remaining)
		if err != nil {
			return err
		}
		for _, binding := range result.Applied {
			if len(binding.JobNames) == 0 {
				fmt.Printf("Cleared recurring-job bindings on volume %s\n", binding.VolumeID)
			}
		}
		if len(result.Failures) > 0 {
			return errdefs.PartialFailure("unenroll", result.Failures)
		}

		if unenrollCmdFlags.deleteBackups {
			if err := deleteBackups(ctx, app, removed.VolumeID, unenrollCmdFlags.yes); err != nil {
				return err
			}
		}

		app.post(ctx, notify.KindSuccess, "unenroll",
			fmt.Sprintf("unenrolled %s/%s", removed.Namespace, removed.ClaimName),
			map[string]string{"namespace": removed.Namespace, "claim": removed.ClaimName})
		return nil
	},
}

func init() {
	unenrollCmd.Flags().BoolVar(&unenrollCmdFlags.deleteBackups, "delete-backups", false, "also delete Longhorn backups and offsite copies for the claim's volume")
	unenrollCmd.Flags().BoolVarP(&unenrollCmdFlags.yes, "yes", "y", false, "skip the interactive confirmation")
}

// deleteBackups removes the Longhorn Backup objects for the volume and the
// matching offsite copies. Failures are collected per backup so one bad
// delete does not strand the rest.
func deleteBackups(ctx context.Context, app *app, volumeID string, yes bool) error {
	if volumeID == "" {
		fmt.Println("Claim was never bound, no backups to delete")
		return nil
	}

	records, err := app.catalog().ListBackups(ctx, volumeID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No backups recorded for volume %s\n", volumeID)
		return nil
	}

	reason := fmt.Sprintf("About to delete %d backup(s) of volume %s, including offsite copies. This cannot be undone.", len(records), volumeID)
	if !confirmFunc(yes)(reason) {
		return restore.ErrConfirmationDenied
	}

	rclone := app.rclone()
	var failures []errdefs.ItemFailure
	for _, record := range records {
		backup := &lhv1beta2.Backup{}
		backup.Namespace = app.cfg.LonghornNamespace
		backup.Name = record.ID
		if err := app.client.Delete(ctx, backup); err != nil && !apierrors.IsNotFound(err) {
			failures = append(failures, errdefs.ItemFailure{Item: record.ID, Err: err})
			continue
		}
		if app.cfg.Offsite.Remote != "" {
			if err := rclone.DeleteBackup(ctx, volumeID, record.ID); err != nil {
				failures = append(failures, errdefs.ItemFailure{Item: record.ID, Err: err})
				continue
			}
		}
		fmt.Printf("Deleted backup %s\n", record.ID)
	}

	return errdefs.PartialFailure("delete backups", failures)
}
