package cli

import (
	"fmt"
	"os"

	"github.com/linkingchat/linkingchat/internal/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ LinkingChat Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 LinkingChat Status")
		fmt.Printf("Version: %s\n", version)

		// Check config
		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:   ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:   ✗ Not found (defaults in effect)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("Config:   ? Unable to load:", err)
			return
		}

		// Check provider keys
		if cfg.Providers.DeepSeek.APIKey != "" {
			fmt.Println("DeepSeek: ✓ API key found")
		} else {
			fmt.Println("DeepSeek: ✗ API key missing")
		}
		if cfg.Providers.Kimi.APIKey != "" {
			fmt.Println("Kimi:     ✓ API key found")
		} else {
			fmt.Println("Kimi:     ✗ API key missing")
		}

		if cfg.Kafka.Enabled {
			fmt.Println("Kafka:    ✓ Enabled (" + cfg.Kafka.Brokers + ")")
		} else {
			fmt.Println("Kafka:    ✗ Disabled")
		}
		if cfg.Slack.Enabled {
			fmt.Println("Slack:    ✓ Enabled (" + cfg.Slack.Channel + ")")
		} else {
			fmt.Println("Slack:    ✗ Disabled")
		}

		if _, err := os.Stat(cfg.Paths.DBPath); err == nil {
			fmt.Println("Database: ✓ Found (" + cfg.Paths.DBPath + ")")
		} else {
			fmt.Println("Database: ✗ Not created yet")
		}

		fmt.Println("Status:   Ready")
	},
}
