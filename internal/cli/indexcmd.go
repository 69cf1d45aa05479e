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
)

var indexCmdFlags struct {
	output string
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Regenerate the JSON backup index",
	Long: `Regenerate the JSON backup index listing every enrolled claim and its
backups. The file is written atomically so readers never observe a partial
document.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		app, err := newApp()
		if err != nil {
			return err
		}

		output := indexCmdFlags.output
		if output == "" {
			output = app.cfg.Index.Path
		}

		if err := app.indexWriter().Write(ctx, output); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", output)
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVarP(&indexCmdFlags.output, "output", "o", "", "index file path (default from config, backup-index.json)")
}
