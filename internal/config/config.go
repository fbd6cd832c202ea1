package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/stk"
)

const (
	EnvEnvFile           = "CRAB_STK_ENV_FILE"
	EnvHTTPAddr          = "CRAB_STK_HTTP_ADDR"
	EnvDBDriver          = "CRAB_STK_DB_DRIVER"
	EnvDBDSN             = "CRAB_STK_DB_DSN"
	EnvSlotCount         = "CRAB_STK_SLOT_COUNT"
	EnvCardLinkURL       = "CRAB_STK_CARD_LINK_URL"
	EnvCardLinkTimeout   = "CRAB_STK_CARD_LINK_TIMEOUT"
	EnvNotifyWebhooks    = "CRAB_STK_NOTIFY_WEBHOOK_URLS"
	EnvUITimeout         = "CRAB_STK_UI_TIMEOUT"
	EnvToneDuration      = "CRAB_STK_TONE_DURATION"
	EnvSuppressToneText  = "CRAB_STK_SUPPRESS_TONE_TEXT"
	EnvAPIRateLimit      = "CRAB_STK_API_RATE_LIMIT"
	EnvAPIBurst          = "CRAB_STK_API_BURST"
	EnvDefaultBrowserURL = "CRAB_STK_DEFAULT_BROWSER_URL"
)

const (
	DefaultHTTPAddr        = ":8090"
	DefaultDBDriver        = "sqlite"
	DefaultDBDSN           = "stk.db"
	DefaultSlotCount       = 1
	DefaultCardLinkTimeout = 10 * time.Second
	DefaultAPIRateLimit    = 50.0
	DefaultAPIBurst        = 100
	defaultEnvFileName     = "stk.env"
)

type Config struct {
	// ConfigFile is the YAML file the configuration was read from, empty
	// when none was found.
	ConfigFile string

	HTTPAddr         string
	DBDriver         string
	DBDSN            string
	SlotCount        int
	CardLinkURL      string
	CardLinkTimeout  time.Duration
	NotifyWebhooks   []string
	UITimeout        time.Duration
	ToneDuration     time.Duration
	SuppressToneText bool
	APIRateLimit     float64
	APIBurst         int
	Texts            dispatch.DefaultTexts
	Policy           Policy
}

// Load reads the dotenv file, then the YAML file, then environment
// overrides. The result is not validated.
func Load() (Config, error) {
	if err := loadDotenv(); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	path, ok, err := ResolveConfigFilePath()
	if err != nil {
		return Config{}, err
	}
	if ok {
		fileCfg, err := loadFileConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
		if err := applyYAML(&cfg, fileCfg.STK, filepath.Dir(path)); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPolicy re-reads only the runtime policy from path.
func LoadPolicy(path string) (Policy, error) {
	fileCfg, err := loadFileConfig(path)
	if err != nil {
		return Policy{}, err
	}
	policy, err := buildPolicy(fileCfg.STK, filepath.Dir(path))
	if err != nil {
		return Policy{}, err
	}
	policy.DefaultBrowserURL = EnvOrDefault(EnvDefaultBrowserURL, policy.DefaultBrowserURL)
	return policy, nil
}

func loadDotenv() error {
	path := EnvOrDefault(EnvEnvFile, filepath.Join(crabstackDirName, defaultEnvFileName))
	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", EnvEnvFile, err)
	}
	if err := godotenv.Load(resolved); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", resolved, err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:        DefaultHTTPAddr,
		DBDriver:        DefaultDBDriver,
		DBDSN:           filepath.Join(crabstackDirName, DefaultDBDSN),
		SlotCount:       DefaultSlotCount,
		CardLinkTimeout: DefaultCardLinkTimeout,
		UITimeout:       stk.DefaultUITimeout,
		ToneDuration:    stk.DefaultToneDuration,
		APIRateLimit:    DefaultAPIRateLimit,
		APIBurst:        DefaultAPIBurst,
		Texts:           dispatch.DefaultTextsEnglish(),
		Policy:          Policy{Slots: map[stk.SlotID]SlotPolicy{}},
	}
}

func applyYAML(cfg *Config, source fileSTKConfig, baseDir string) error {
	if value := strings.TrimSpace(source.HTTPAddr); value != "" {
		cfg.HTTPAddr = value
	}
	if value := strings.TrimSpace(source.DBDriver); value != "" {
		cfg.DBDriver = strings.ToLower(value)
	}
	if value := strings.TrimSpace(source.DBDSN); value != "" {
		cfg.DBDSN = value
	}
	if source.SlotCount != nil {
		cfg.SlotCount = *source.SlotCount
	}
	if value := strings.TrimSpace(source.CardLink.URL); value != "" {
		cfg.CardLinkURL = value
	}
	timeout, err := parseOptionalDuration(source.CardLink.Timeout, cfg.CardLinkTimeout, "stk.card_link.timeout")
	if err != nil {
		return err
	}
	cfg.CardLinkTimeout = timeout

	for _, url := range source.NotifyWebhooks {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			cfg.NotifyWebhooks = append(cfg.NotifyWebhooks, trimmed)
		}
	}

	uiTimeout, err := parseOptionalDuration(source.UITimeout, cfg.UITimeout, "stk.ui_timeout")
	if err != nil {
		return err
	}
	cfg.UITimeout = uiTimeout
	toneDuration, err := parseOptionalDuration(source.ToneDuration, cfg.ToneDuration, "stk.tone_duration")
	if err != nil {
		return err
	}
	cfg.ToneDuration = toneDuration
	if source.SuppressToneText != nil {
		cfg.SuppressToneText = *source.SuppressToneText
	}

	if source.API.RateLimit != nil {
		cfg.APIRateLimit = *source.API.RateLimit
	}
	if source.API.Burst != nil {
		cfg.APIBurst = *source.API.Burst
	}

	applyText(&cfg.Texts.SetUpCall, source.Texts.SetUpCall)
	applyText(&cfg.Texts.OpenChannel, source.Texts.OpenChannel)
	applyText(&cfg.Texts.CloseChannel, source.Texts.CloseChannel)
	applyText(&cfg.Texts.SendData, source.Texts.SendData)
	applyText(&cfg.Texts.ReceiveData, source.Texts.ReceiveData)
	applyText(&cfg.Texts.Tone, source.Texts.Tone)

	policy, err := buildPolicy(source, baseDir)
	if err != nil {
		return err
	}
	cfg.Policy = policy
	return nil
}

func applyText(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = EnvOrDefault(EnvHTTPAddr, cfg.HTTPAddr)
	cfg.DBDriver = strings.ToLower(EnvOrDefault(EnvDBDriver, cfg.DBDriver))
	cfg.DBDSN = EnvOrDefault(EnvDBDSN, cfg.DBDSN)
	cfg.CardLinkURL = EnvOrDefault(EnvCardLinkURL, cfg.CardLinkURL)
	cfg.SuppressToneText = parseBoolEnv(EnvSuppressToneText, cfg.SuppressToneText)
	cfg.Policy.DefaultBrowserURL = EnvOrDefault(EnvDefaultBrowserURL, cfg.Policy.DefaultBrowserURL)
	if raw := EnvString(EnvNotifyWebhooks); raw != "" {
		cfg.NotifyWebhooks = splitList(raw)
	}

	var err error
	if cfg.SlotCount, err = parseIntEnv(EnvSlotCount, cfg.SlotCount); err != nil {
		return err
	}
	if cfg.APIBurst, err = parseIntEnv(EnvAPIBurst, cfg.APIBurst); err != nil {
		return err
	}
	if cfg.APIRateLimit, err = parseFloatEnv(EnvAPIRateLimit, cfg.APIRateLimit); err != nil {
		return err
	}
	if cfg.CardLinkTimeout, err = parseDurationEnv(EnvCardLinkTimeout, cfg.CardLinkTimeout); err != nil {
		return err
	}
	if cfg.UITimeout, err = parseDurationEnv(EnvUITimeout, cfg.UITimeout); err != nil {
		return err
	}
	if cfg.ToneDuration, err = parseDurationEnv(EnvToneDuration, cfg.ToneDuration); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%s must be sqlite or postgres", EnvDBDriver)
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("%s must not be empty", EnvDBDSN)
	}
	if c.SlotCount < 1 {
		return fmt.Errorf("%s must be >= 1", EnvSlotCount)
	}
	if c.CardLinkTimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvCardLinkTimeout)
	}
	if c.UITimeout <= 0 {
		return fmt.Errorf("%s must be > 0", EnvUITimeout)
	}
	if c.ToneDuration <= 0 {
		return fmt.Errorf("%s must be > 0", EnvToneDuration)
	}
	if c.APIRateLimit <= 0 {
		return fmt.Errorf("%s must be > 0", EnvAPIRateLimit)
	}
	if c.APIBurst < 1 {
		return fmt.Errorf("%s must be >= 1", EnvAPIBurst)
	}
	for slot := range c.Policy.Slots {
		if int(slot) >= c.SlotCount {
			return fmt.Errorf("slot policy for slot %s exceeds %s=%d", slot, EnvSlotCount, c.SlotCount)
		}
	}
	return nil
}

func (c Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		UITimeout:        c.UITimeout,
		ToneDuration:     c.ToneDuration,
		SuppressToneText: c.SuppressToneText,
		Texts:            c.Texts,
	}
}
