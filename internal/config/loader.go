package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".linkingchat"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("LINKINGCHAT_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("LINKINGCHAT_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// If file doesn't exist, continue with defaults

	// Override with environment variables for each group
	envconfig.Process("LINKINGCHAT_PATHS", &cfg.Paths)
	envconfig.Process("LINKINGCHAT_DEEPSEEK", &cfg.Providers.DeepSeek)
	envconfig.Process("LINKINGCHAT_KIMI", &cfg.Providers.Kimi)
	envconfig.Process("LINKINGCHAT_ROUTING", &cfg.Routing)
	envconfig.Process("LINKINGCHAT_DRAFT", &cfg.Draft)
	envconfig.Process("LINKINGCHAT_KAFKA", &cfg.Kafka)
	envconfig.Process("LINKINGCHAT_SLACK", &cfg.Slack)

	// Fallback for API keys set the provider-native way
	if cfg.Providers.DeepSeek.APIKey == "" {
		cfg.Providers.DeepSeek.APIKey = os.Getenv("DEEPSEEK_API_KEY")
	}
	if cfg.Providers.Kimi.APIKey == "" {
		cfg.Providers.Kimi.APIKey = os.Getenv("KIMI_API_KEY")
	}

	// Expand ~ in paths
	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[1:])
			}
		}
	}
	expandHome(&cfg.Paths.DataDir)
	expandHome(&cfg.Paths.DBPath)

	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
