package cli

import (
	"github.com/spf13/cobra"
)

var scanChatID string

var scanCmd = &cobra.Command{
	Use:   "scan <token>",
	Short: "Run a one-shot pipeline for a single token identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context(), args[0], scanChatID)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanChatID, "chat-id", "console", "Chat identifier attached to alerts")
}
