package cmd

import (
	"log"

	"github.com/St0nefish/discord-openai/aithena"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Aithena bot and (optionally) the HTTP API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := aithena.New(cfg)
		if err != nil {
			log.Fatalf("error creating aithena: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running aithena: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
