package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Ensemble - a collaborative arrangement engine",
	Long:  `Ensemble synchronizes multi-track arrangements across concurrent editors.`,
}

func Execute() error {
	return rootCmd.Execute()
}
