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

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lhkeeper/longhorn-keeper/internal/notify"
	"github.com/lhkeeper/longhorn-keeper/internal/restore"
)

var restoreCmdFlags struct {
	newName      string
	size         string
	storageClass string
	dryRun       bool
	yes          bool
}

var restoreCmd = &cobra.Command{
	Use:   "restore <namespace> <claim> [backupID]",
	Short: "Restore a claim from a Longhorn backup",
	Long: `Restore a claim from a Longhorn backup.

Without a backupID the latest completed backup of the claim's volume is
used. The restore creates a Longhorn volume from the backup, a static
PersistentVolume on top of it and a pre-bound claim, then waits for the
claim to bind. --dry-run prints the plan and performs no mutation.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		app, err := newApp()
		if err != nil {
			return err
		}

		req := restore.Request{
			Namespace:    args[0],
			ClaimName:    args[1],
			NewName:      restoreCmdFlags.newName,
			OverrideSize: restoreCmdFlags.size,
			StorageClass: restoreCmdFlags.storageClass,
		}
		if len(args) == 3 {
			req.BackupID = args[2]
		}

		planner := app.planner()
		plan, err := planner.Plan(ctx, req)
		if err != nil {
			return err
		}

		printPlan(plan)
		if restoreCmdFlags.dryRun {
			return nil
		}

		result, err := planner.Apply(ctx, plan, restore.ApplyOptions{
			Confirm:      confirmFunc(restoreCmdFlags.yes),
			Timeout:      app.cfg.Restore.Timeout,
			PollInterval: app.cfg.Restore.PollInterval,
		})
		if err != nil {
			app.post(ctx, notify.KindFailure, "restore",
				fmt.Sprintf("restore of %s/%s from %s failed: %v", plan.TargetNamespace, plan.TargetClaimName, plan.SourceBackupID, err),
				map[string]string{"namespace": plan.TargetNamespace, "claim": plan.TargetClaimName, "backup": plan.SourceBackupID})
			return err
		}

		fmt.Printf("Restored %s/%s from backup %s (volume %s, pv %s, bound=%v)\n",
			plan.TargetNamespace, result.ClaimName, plan.SourceBackupID,
			result.VolumeName, result.PVName, result.Bound)
		app.post(ctx, notify.KindSuccess, "restore",
			fmt.Sprintf("restored %s/%s from backup %s", plan.TargetNamespace, result.ClaimName, plan.SourceBackupID),
			map[string]string{"namespace": plan.TargetNamespace, "claim": result.ClaimName, "backup": plan.SourceBackupID})
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreCmdFlags.newName, "new-name", "", "restore to a claim with this name instead of replacing the original")
	restoreCmd.Flags().StringVar(&restoreCmdFlags.size, "size", "", "override the restored volume size, e.g. 20Gi")
	restoreCmd.Flags().StringVar(&restoreCmdFlags.storageClass, "storage-class", "", "storage class for the restored claim")
	restoreCmd.Flags().BoolVar(&restoreCmdFlags.dryRun, "dry-run", false, "print the restore plan without touching the cluster")
	restoreCmd.Flags().BoolVarP(&restoreCmdFlags.yes, "yes", "y", false, "skip the interactive confirmation")
}

func printPlan(plan restore.Plan) {
	fmt.Printf("Restore plan:\n")
	fmt.Printf("  target:        %s/%s\n", plan.TargetNamespace, plan.TargetClaimName)
	fmt.Printf("  backup:        %s\n", plan.SourceBackupID)
	fmt.Printf("  volume:        %s\n", plan.VolumeName)
	fmt.Printf("  size:          %s (%s)\n", plan.Size.String(), humanize.IBytes(uint64(plan.Size.Value())))
	fmt.Printf("  storage class: %s\n", plan.StorageClass)
	if plan.RequiresReplace {
		fmt.Printf("  replaces the existing claim %s/%s\n", plan.TargetNamespace, plan.TargetClaimName)
	}
	if plan.NeedsConfirmation {
		fmt.Printf("  needs confirmation: %s\n", plan.ConfirmReason)
	}
}
