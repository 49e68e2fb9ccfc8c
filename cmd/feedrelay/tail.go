package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedrelay/internal/ws"
)

func tailCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "tail URL",
		Short:   "Print every row a relay sends, for debugging",
		Example: `  feedrelay tail ws://localhost:8080/ws`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			logger.Debug("tailing relay", zap.String("url", url))

			out := cmd.OutOrStdout()
			rows := 0
			err := ws.Tail(cmd.Context(), url, func(row string) {
				rows++
				fmt.Fprintln(out, row)
			})
			logger.Debug("tail finished", zap.Int("rows", rows))
			return err
		},
	}
}
