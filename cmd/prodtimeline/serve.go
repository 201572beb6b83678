package main

import (
	"github.com/spf13/cobra"

	"github.com/chrissnell/prodtimeline/internal/app"
	"github.com/chrissnell/prodtimeline/internal/log"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reference data service and push server",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := loadConfig()
			if err != nil {
				log.Error(err)
				return err
			}
			application := app.New(p, log.GetSugaredLogger())
			if err := application.Run(cmd.Context()); err != nil {
				log.Errorf("Application error: %v", err)
				return err
			}
			return nil
		},
	}
}
