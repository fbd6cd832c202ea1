package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile           = "CRAB_STK_CONFIG_FILE"
	crabstackDirName        = ".crabstack"
	defaultConfigFileName   = "stk.yaml"
	alternateConfigFileName = "stk.yml"
)

type fileConfig struct {
	Version int           `yaml:"version"`
	STK     fileSTKConfig `yaml:"stk"`
}

type fileSTKConfig struct {
	HTTPAddr          string             `yaml:"http_addr"`
	DBDriver          string             `yaml:"db_driver"`
	DBDSN             string             `yaml:"db_dsn"`
	SlotCount         *int               `yaml:"slot_count"`
	CardLink          fileCardLinkConfig `yaml:"card_link"`
	NotifyWebhooks    []string           `yaml:"notify_webhooks"`
	UITimeout         string             `yaml:"ui_timeout"`
	ToneDuration      string             `yaml:"tone_duration"`
	SuppressToneText  *bool              `yaml:"suppress_tone_text"`
	API               fileAPIConfig      `yaml:"api"`
	DefaultBrowserURL string             `yaml:"default_browser_url"`
	MenuLabel         string             `yaml:"menu_label"`
	MenuIconFile      string             `yaml:"menu_icon_file"`
	Texts             fileTextsConfig    `yaml:"texts"`
	Slots             []fileSlotConfig   `yaml:"slots"`
}

type fileCardLinkConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

type fileAPIConfig struct {
	RateLimit *float64 `yaml:"rate_limit"`
	Burst     *int     `yaml:"burst"`
}

type fileTextsConfig struct {
	SetUpCall    string `yaml:"set_up_call"`
	OpenChannel  string `yaml:"open_channel"`
	CloseChannel string `yaml:"close_channel"`
	SendData     string `yaml:"send_data"`
	ReceiveData  string `yaml:"receive_data"`
	Tone         string `yaml:"tone"`
}

type fileSlotConfig struct {
	Slot                  int    `yaml:"slot"`
	LaunchBrowserDisabled bool   `yaml:"launch_browser_disabled"`
	DefaultBrowserURL     string `yaml:"default_browser_url"`
	MenuLabel             string `yaml:"menu_label"`
	MenuIconFile          string `yaml:"menu_icon_file"`
}

func loadFileConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveConfigFilePath finds the config file: CRAB_STK_CONFIG_FILE first,
// then .crabstack/stk.yaml in the working directory, then the same under
// the home directory. ok is false when no file exists.
func ResolveConfigFilePath() (string, bool, error) {
	if explicit := EnvString(EnvConfigFile); explicit != "" {
		resolvedPath, err := expandPath(explicit)
		if err != nil {
			return "", false, fmt.Errorf("resolve %s: %w", EnvConfigFile, err)
		}
		info, err := os.Stat(resolvedPath)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", resolvedPath, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", resolvedPath)
		}
		return resolvedPath, true, nil
	}

	candidates := []string{
		filepath.Join(crabstackDirName, defaultConfigFileName),
		filepath.Join(crabstackDirName, alternateConfigFileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(homeDir, crabstackDirName, defaultConfigFileName),
			filepath.Join(homeDir, crabstackDirName, alternateConfigFileName),
		)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}
