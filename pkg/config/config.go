package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/satriahrh/wicara/domain/entities"
)

// Config is the full set of recognized options with their defaults applied.
type Config struct {
	SampleRate      int
	Channels        int
	WakeKeyword     string
	WakeSensitivity float64

	DefaultMode        entities.Mode
	DailyBudget        float64
	MonthlyBudget      float64
	PeakHoursStart     int
	PeakHoursEnd       int
	BudgetThresholdPct float64

	VoiceName  string
	VoiceSpeed float64

	RequireConfirmation []string
	Blocked             []string

	RealtimeAPIKey   string
	GeminiAPIKey     string
	ElevenLabsAPIKey string

	BridgePort   string
	BridgeSecret string
	MongoURI     string
}

// Defaults per the recognized-options table.
func defaults() Config {
	return Config{
		SampleRate:         16000,
		Channels:           1,
		WakeKeyword:        "jarvis",
		WakeSensitivity:    0.5,
		DefaultMode:        entities.ModePremium,
		DailyBudget:        1.00,
		MonthlyBudget:      30.00,
		PeakHoursStart:     9,
		PeakHoursEnd:       17,
		BudgetThresholdPct: 50,
		VoiceSpeed:         1.0,
		RequireConfirmation: []string{
			"delete_file",
			"modify_system_settings",
			"uninstall_application",
			"modify_registry",
		},
		Blocked: []string{
			"access_credentials",
			"modify_admin_protected",
			"run_arbitrary_powershell",
		},
		BridgePort: "8765",
	}
}

// LoadFromEnv loads .env when present and reads the environment over the
// defaults.
func LoadFromEnv() Config {
	godotenv.Load()

	cfg := defaults()
	cfg.SampleRate = envInt("WICARA_SAMPLE_RATE", cfg.SampleRate)
	cfg.Channels = envInt("WICARA_CHANNELS", cfg.Channels)
	cfg.WakeKeyword = envString("WICARA_WAKE_KEYWORD", cfg.WakeKeyword)
	cfg.WakeSensitivity = envFloat("WICARA_WAKE_SENSITIVITY", cfg.WakeSensitivity)

	if mode := os.Getenv("WICARA_DEFAULT_MODE"); mode == string(entities.ModeEfficient) {
		cfg.DefaultMode = entities.ModeEfficient
	}
	cfg.DailyBudget = envFloat("WICARA_DAILY_BUDGET", cfg.DailyBudget)
	cfg.MonthlyBudget = envFloat("WICARA_MONTHLY_BUDGET", cfg.MonthlyBudget)
	cfg.PeakHoursStart = envInt("WICARA_PEAK_HOURS_START", cfg.PeakHoursStart)
	cfg.PeakHoursEnd = envInt("WICARA_PEAK_HOURS_END", cfg.PeakHoursEnd)
	cfg.BudgetThresholdPct = envFloat("WICARA_BUDGET_THRESHOLD_PCT", cfg.BudgetThresholdPct)

	cfg.VoiceName = envString("WICARA_VOICE_NAME", cfg.VoiceName)
	cfg.VoiceSpeed = envFloat("WICARA_VOICE_SPEED", cfg.VoiceSpeed)

	if v := os.Getenv("WICARA_REQUIRE_CONFIRMATION"); v != "" {
		cfg.RequireConfirmation = splitList(v)
	}
	if v := os.Getenv("WICARA_BLOCKED"); v != "" {
		cfg.Blocked = splitList(v)
	}

	cfg.RealtimeAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.ElevenLabsAPIKey = os.Getenv("ELEVEN_LABS_API_KEY")

	cfg.BridgePort = envString("WICARA_BRIDGE_PORT", cfg.BridgePort)
	cfg.BridgeSecret = os.Getenv("WICARA_BRIDGE_SECRET")
	cfg.MongoURI = os.Getenv("MONGODB_URI")

	return cfg
}

// Credentials exposes the config as the domain credential provider.
type Credentials struct {
	cfg Config
}

// NewCredentials wraps a loaded config.
func NewCredentials(cfg Config) *Credentials {
	return &Credentials{cfg: cfg}
}

func (c *Credentials) RealtimeAPIKey() (string, error) {
	if c.cfg.RealtimeAPIKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY is not set")
	}
	return c.cfg.RealtimeAPIKey, nil
}

func (c *Credentials) GeminiAPIKey() (string, error) {
	if c.cfg.GeminiAPIKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY is not set")
	}
	return c.cfg.GeminiAPIKey, nil
}

func (c *Credentials) ElevenLabsAPIKey() (string, error) {
	if c.cfg.ElevenLabsAPIKey == "" {
		return "", fmt.Errorf("ELEVEN_LABS_API_KEY is not set")
	}
	return c.cfg.ElevenLabsAPIKey, nil
}

func (c *Credentials) VoiceName() string {
	return c.cfg.VoiceName
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
