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
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
	"github.com/lhkeeper/longhorn-keeper/internal/inventory"
)

var listCmd = &cobra.Command{
	Use:   "list [namespace] [claim]",
	Short: "List enrolled claims and their latest backups",
	Args:  cobra.MaximumNArgs(2),
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

		cat := app.catalog()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "NAMESPACE\tCLAIM\tVOLUME\tTIER\tENROLLED\tLATEST BACKUP\tSIZE")
		for _, ev := range enrolled {
			volume := ev.VolumeID
			latestID, latestSize := "-", "-"
			if volume == "" {
				volume = "<unbound>"
			} else {
				latest, err := cat.Latest(ctx, volume)
				switch {
				case err == nil:
					latestID = latest.ID
					latestSize = humanize.IBytes(uint64(latest.SizeBytes))
				case errdefs.IsNotFound(err):
					// No completed backup yet.
				default:
					return err
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				ev.Namespace, ev.ClaimName, volume, ev.Tier,
				ev.EnrolledAt.Format(time.RFC3339), latestID, latestSize)
		}
		return nil
	},
}

// filterEnrolled narrows the enrollment list to the optional namespace and
// claim arguments.
func filterEnrolled(enrolled []inventory.EnrolledVolume, args []string) []inventory.EnrolledVolume {
	if len(args) == 0 {
		return enrolled
	}
	var out []inventory.EnrolledVolume
	for _, ev := range enrolled {
		if ev.Namespace != args[0] {
			continue
		}
		if len(args) == 2 && ev.ClaimName != args[1] {
			continue
		}
		out = append(out, ev)
	}
	return out
}
