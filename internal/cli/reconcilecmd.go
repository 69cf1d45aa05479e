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
	"strings"

	"github.com/spf13/cobra"

	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
	"github.com/lhkeeper/longhorn-keeper/internal/notify"
)

var reconcileCmdFlags struct {
	jobs bool
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Apply recurring-job bindings for all enrolled claims",
	Long: `Apply recurring-job bindings for all enrolled claims.

Volumes of enrolled claims get the job set their tier implies; volumes no
longer enrolled have the keeper-managed jobs cleared. With --jobs the
daily-backup and weekly-backup RecurringJob objects themselves are created
or updated from configuration first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		app, err := newApp()
		if err != nil {
			return err
		}
		reconciler := app.reconciler()

		if reconcileCmdFlags.jobs {
			changed, err := reconciler.EnsureRecurringJobs(ctx, app.jobSpecs())
			if err != nil {
				return err
			}
			for _, name := range changed {
				fmt.Printf("Updated recurring job %s\n", name)
			}
		}

		enrolled, err := app.tracker().List(ctx)
		if err != nil {
			return err
		}

		result, err := reconciler.Reconcile(ctx, enrolled)
		if err != nil {
			app.post(ctx, notify.KindFailure, "reconcile", err.Error(), nil)
			return err
		}

		for _, binding := range result.Applied {
			if len(binding.JobNames) == 0 {
				fmt.Printf("Cleared bindings on volume %s\n", binding.VolumeID)
			} else {
				fmt.Printf("Bound volume %s to %s\n", binding.VolumeID, strings.Join(binding.JobNames, ", "))
			}
		}
		if len(result.Applied) == 0 {
			fmt.Println("All volumes already in the desired state")
		}

		if len(result.Failures) > 0 {
			for _, failure := range result.Failures {
				fmt.Printf("Failed: %s\n", failure)
			}
			err := errdefs.PartialFailure("reconcile", result.Failures)
			app.post(ctx, notify.KindFailure, "reconcile", err.Error(),
				map[string]string{"applied": fmt.Sprint(len(result.Applied)), "failed": fmt.Sprint(len(result.Failures))})
			return err
		}

		app.post(ctx, notify.KindSuccess, "reconcile",
			fmt.Sprintf("reconciled %d enrollment(s), %d binding(s) changed", len(enrolled), len(result.Applied)),
			map[string]string{"applied": fmt.Sprint(len(result.Applied))})
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileCmdFlags.jobs, "jobs", false, "also create or update the keeper-managed RecurringJob objects")
}
