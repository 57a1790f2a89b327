package commands

import (
	"fmt"
	"os"

	"github.com/anaelectric/powermatcher/internal/printer"
	"github.com/anaelectric/powermatcher/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit   bool
	initCluster string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter powermatcher.yml",
	Long: `Create a powermatcher.yml in the current directory describing a small
cluster: one auctioneer, one concentrator, a PV panel and a heat pump.

Use --force to overwrite an existing file.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing powermatcher.yml")
	initCmd.Flags().StringVarP(&initCluster, "cluster", "c", "", "Cluster name written to the file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	if _, err := scaffold.Initialize(dir, initCluster, forceInit); err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	scaffold.PrintSuccess(cmd.OutOrStdout(), scaffold.FileName)
	return nil
}
