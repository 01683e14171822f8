package main

import (
	"github.com/spf13/cobra"

	"github.com/mmp/bkv/util"
)

var (
	configPath string
	logLevel   string

	log *util.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bkv",
	Short: "bkv is a deduplicated, versioned backup engine",
	Long: `bkv walks the directories of a named backup set, storing each
changed file as a content-addressed, optionally diffed, optionally
compressed and encrypted blob, and records the result in a per-set
manifest that can be queried or restored from at any later point in
time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := util.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log = util.NewLogger(level)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "bkv.yaml", "path to the backup set configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log verbosity (error, warning, info, debug)")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(restoreCmd)
}
