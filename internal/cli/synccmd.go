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

	"github.com/lhkeeper/longhorn-keeper/internal/notify"
)

var syncCmdFlags struct {
	localDir string
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the local backupstore to the offsite remote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		app, err := newApp()
		if err != nil {
			return err
		}

		localDir := syncCmdFlags.localDir
		if localDir == "" {
			localDir = app.cfg.Offsite.LocalDir
		}
		if localDir == "" {
			return fmt.Errorf("no local backupstore directory: set --local-dir or offsite.local_dir")
		}
		if app.cfg.Offsite.Remote == "" {
			return fmt.Errorf("no offsite remote configured: set offsite.remote")
		}

		if err := app.rclone().Sync(ctx, localDir); err != nil {
			app.post(ctx, notify.KindFailure, "sync",
				fmt.Sprintf("offsite sync from %s failed: %v", localDir, err),
				map[string]string{"localDir": localDir, "remote": app.cfg.Offsite.Remote})
			return err
		}

		fmt.Printf("Synced %s to %s\n", localDir, app.cfg.Offsite.Remote)
		app.post(ctx, notify.KindSuccess, "sync",
			fmt.Sprintf("synced %s to %s", localDir, app.cfg.Offsite.Remote),
			map[string]string{"localDir": localDir, "remote": app.cfg.Offsite.Remote})
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncCmdFlags.localDir, "local-dir", "", "local backupstore directory (default from config)")
}
