package cli

import (
	"github.com/spf13/cobra"
)

var runChatID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Read chat messages from stdin and run the signal pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), runChatID)
	},
}

func init() {
	runCmd.Flags().StringVar(&runChatID, "chat-id", "console", "Chat identifier attached to alerts")
}
