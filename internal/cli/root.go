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

// Package cli implements the longhorn-keeper command line interface.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
	"github.com/lhkeeper/longhorn-keeper/internal/restore"
)

var rootFlags struct {
	config     string
	kubeconfig string
	debug      bool
}

var rootCmd = &cobra.Command{
	Use:   "longhorn-keeper",
	Short: "Backup enrollment, restore and offsite audit for Longhorn volumes",
	Long: `longhorn-keeper enrolls PersistentVolumeClaims into Longhorn recurring
backup jobs, reads the backup catalog, reconciles recurring-job bindings,
plans and applies restores, audits the offsite copy and regenerates the
backup index.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.config, "config", "", "path to the keeper config file (default: keeper.yaml, /etc/longhorn-keeper/keeper.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.kubeconfig, "kubeconfig", "", "path to the kubeconfig file (default: in-cluster or $KUBECONFIG)")
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(unenrollCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(syncCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	return 0
}

// ExitCode maps an error to the process exit code: 0 success, 1 for usage
// and resolution failures, 2 when an external system failed mid-operation.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errdefs.IsExternalUnavailable(err), errdefs.IsPartialFailure(err):
		return 2
	default:
		// NotFound, AmbiguousSource, Conflict, denied confirmation,
		// flag and argument errors.
		return 1
	}
}

// promptConfirm asks the operator to confirm a guarded action on the
// terminal. Used unless --yes was given.
func promptConfirm(reason string) bool {
	fmt.Fprintf(os.Stderr, "%s\nContinue? [y/N]: ", reason)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// confirmFunc picks the confirmation strategy for a command.
func confirmFunc(yes bool) restore.ConfirmFunc {
	if yes {
		return restore.ConfirmAlways
	}
	return promptConfirm
}
