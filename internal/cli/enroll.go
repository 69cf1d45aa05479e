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

	"github.com/lhkeeper/longhorn-keeper/internal/inventory"
	"github.com/lhkeeper/longhorn-keeper/internal/notify"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <namespace> <claim> [tier]",
	Short: "Enroll a PersistentVolumeClaim for recurring backups",
	Long: `Enroll a PersistentVolumeClaim for recurring backups.

The tier is daily, weekly or both; it defaults to daily. Enrollment records
intent on the claim; run "longhorn-keeper reconcile" to apply the
recurring-job bindings to the Longhorn volume.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		tier := inventory.TierDaily
		if len(args) == 3 {
			parsed, err := inventory.ParseTier(args[2])
			if err != nil {
				return err
			}
			tier = parsed
		}

		app, err := newApp()
		if err != nil {
			return err
		}

		enrolled, err := app.tracker().Enroll(ctx, args[0], args[1], tier)
		if err != nil {
			return err
		}

		if enrolled.VolumeID == "" {
			fmt.Printf("Enrolled %s/%s (tier %s); claim is not bound yet, bindings apply once it is\n",
				enrolled.Namespace, enrolled.ClaimName, enrolled.Tier)
		} else {
			fmt.Printf("Enrolled %s/%s (tier %s, volume %s)\n",
				enrolled.Namespace, enrolled.ClaimName, enrolled.Tier, enrolled.VolumeID)
		}

		app.post(ctx, notify.KindSuccess, "enroll",
			fmt.Sprintf("enrolled %s/%s into tier %s", enrolled.Namespace, enrolled.ClaimName, enrolled.Tier),
			map[string]string{"namespace": enrolled.Namespace, "claim": enrolled.ClaimName, "tier": string(enrolled.Tier)})
		return nil
	},
}
