package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "finanalyst",
		Short: "Financial document analysis crew",
		Long: `Runs a crew of LLM agents over a financial PDF: document verification,
financial analysis, investment recommendations and risk assessment.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newVerifyCmd(),
		newServeCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newAgentsCmd(),
		newModelsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
