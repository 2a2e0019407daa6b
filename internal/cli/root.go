package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/linkingchat/linkingchat/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _ _       _    _              ____ _           _\n" +
		" | (_)_ __ | | _(_)_ __   __ _ / ___| |__   __ _| |_\n" +
		" | | | '_ \\| |/ / | '_ \\ / _` | |   | '_ \\ / _` | __|\n" +
		" | | | | | |   <| | | | | (_| | |___| | | | (_| | |_\n" +
		" |_|_|_| |_|_|\\_\\_|_| |_|\\__, |\\____|_| |_|\\__,_|\\__|\n" +
		"                         |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "linkingchat",
	Short: "LinkingChat - AI orchestration for chat",
	Long:  color.CyanString(logo) + "\nMulti-provider AI routing, draft verification, and bot communication for chat backends.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}
