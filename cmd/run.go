package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/voxtally/voxtally/voxtally"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the VoxTally bot and status API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			vt, err := voxtally.New(cfg)
			if err != nil {
				log.Fatalf("error creating voxtally: %s", err.Error())
			}

			if err = vt.Run(ctx); err != nil {
				log.Fatalf("error running voxtally: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
