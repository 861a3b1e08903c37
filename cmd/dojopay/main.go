package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
)

var Version = "dev"

var nodeID int64

func main() {
	rootCmd := &cobra.Command{
		Use:     "dojopay",
		Short:   "Billing and payment reconciliation for the academy",
		Version: Version,
	}
	rootCmd.PersistentFlags().Int64Var(&nodeID, "node", 1, "snowflake node id, unique per replica")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}
