package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string            `yaml:"discord_token"`
	GuildID       string            `yaml:"guild_id"`
	DatabasePath  string            `yaml:"database_path"`
	LogLevel      string            `yaml:"log_level"`
	RetentionDays int               `yaml:"retention_days"`
	Logs          LogConfig         `yaml:"logs"`
	Health        HealthConfig      `yaml:"health"`
	Permissions   PermissionsConfig `yaml:"permissions"`
	Moderation    ModerationConfig  `yaml:"moderation"`
	Leveling      LevelingConfig    `yaml:"leveling"`
	Sync          SyncConfig        `yaml:"sync"`
	Content       ContentConfig     `yaml:"content"`
	EmbedColors   EmbedColors       `yaml:"embed_colors"`
}

type LogConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type PermissionsConfig struct {
	AuthorizedUser   string   `yaml:"authorized_user"`
	OwnerIDs         []string `yaml:"owner_ids"`
	AdminRoleIDs     []string `yaml:"admin_role_ids"`
	ModeratorRoleIDs []string `yaml:"moderator_role_ids"`
}

type ModerationConfig struct {
	MuteRoleName     string   `yaml:"mute_role_name"`
	LogChannelID     string   `yaml:"log_channel_id"`
	ModRoleID        string   `yaml:"mod_role_id"`
	AutomodEnabled   bool     `yaml:"automod_enabled"`
	AutomodAuditOnly bool     `yaml:"automod_audit_only"`
	BannedWordsFile  string   `yaml:"banned_words_file"`
	BlockedDomains   []string `yaml:"blocked_domains"`
}

type LevelingConfig struct {
	Enabled             bool              `yaml:"enabled"`
	Announce            bool              `yaml:"announce"`
	AnnounceChannelID   string            `yaml:"announce_channel_id"`
	StoreTimeoutSeconds int               `yaml:"store_timeout_seconds"`
	SettleWindowSeconds int               `yaml:"settle_window_seconds"`
	Milestones          []MilestoneConfig `yaml:"milestones"`
}

type MilestoneConfig struct {
	Threshold int64  `yaml:"threshold"`
	Role      string `yaml:"role"`
	Color     int    `yaml:"color"`
}

type SyncConfig struct {
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	ProgressEvery     int     `yaml:"progress_every"`
}

type ContentConfig struct {
	FAQPath   string `yaml:"faq_path"`
	RulesPath string `yaml:"rules_path"`
}

type EmbedColors struct {
	Success    int `yaml:"success"`
	Moderation int `yaml:"moderation"`
	Warning    int `yaml:"warning"`
	Error      int `yaml:"error"`
	Info       int `yaml:"info"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:  "/data/warden.db",
		LogLevel:      "info",
		RetentionDays: 30,
		Logs:          LogConfig{Dir: "logs", MaxSizeMB: 20, MaxBackups: 7, MaxAgeDays: 30, Compress: true},
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Moderation: ModerationConfig{
			MuteRoleName:   "Muted",
			AutomodEnabled: true,
		},
		Leveling: LevelingConfig{
			Enabled:             true,
			Announce:            true,
			StoreTimeoutSeconds: 5,
			SettleWindowSeconds: 30,
			Milestones:          DefaultMilestones(),
		},
		Sync:    SyncConfig{Concurrency: 3, RequestsPerSecond: 4, Burst: 10, ProgressEvery: 1000},
		Content: ContentConfig{},
		EmbedColors: EmbedColors{
			Success:    0x2ECC71,
			Moderation: 0xE74C3C,
			Warning:    0xF39C12,
			Error:      0xE74C3C,
			Info:       0x3498DB,
		},
	}
}

// DefaultMilestones is the stock reward ladder.
func DefaultMilestones() []MilestoneConfig {
	thresholds := []struct {
		threshold int64
		role      string
	}{
		{10, "Newbie Deer 10+ Messages"},
		{100, "Newborn Deer 100+ Messages"},
		{500, "New Deer 500+ Messages"},
		{1000, "Deer Enthuaist 1000+ Messages"},
		{2500, "Active Deer 2500+ Messages"},
		{5000, "Deerzilla 5000+ Messages"},
		{10000, "Dapatron 10K+ Messages"},
		{25000, "Holy Deer 25K+ Messages"},
		{50000, "Deer God 50K+ Messages"},
	}
	milestones := make([]MilestoneConfig, 0, len(thresholds))
	for _, m := range thresholds {
		milestones = append(milestones, MilestoneConfig{Threshold: m.threshold, Role: m.role, Color: MilestoneColor(m.threshold)})
	}
	return milestones
}

// MilestoneColor picks the role color used when a milestone entry does not set one.
func MilestoneColor(threshold int64) int {
	switch {
	case threshold >= 50000:
		return 0xE74C3C
	case threshold >= 25000:
		return 0x9B59B6
	case threshold >= 10000:
		return 0x3498DB
	case threshold >= 5000:
		return 0x1ABC9C
	case threshold >= 2500:
		return 0x2ECC71
	case threshold >= 1000:
		return 0xF39C12
	case threshold >= 500:
		return 0xE67E22
	default:
		return 0x95A5A6
	}
}

func Load() (Config, error) {
	cfg, err := LoadOffline()
	if err != nil {
		return Config{}, err
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	return cfg, nil
}

// LoadOffline layers defaults, config.yaml and the environment without
// requiring gateway credentials. Used by the admin CLI.
func LoadOffline() (Config, error) {
	// .env is optional; real environment variables always win over it.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// Parse decodes YAML on top of cfg. A milestones key replaces the default
// ladder instead of merging with it.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	for i := range cfg.Leveling.Milestones {
		if cfg.Leveling.Milestones[i].Color == 0 {
			cfg.Leveling.Milestones[i].Color = MilestoneColor(cfg.Leveling.Milestones[i].Threshold)
		}
	}
	return nil
}

func (c LevelingConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c LevelingConfig) SettleWindow() time.Duration {
	return time.Duration(c.SettleWindowSeconds) * time.Second
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", envString("BOT_TOKEN", cfg.DiscordToken))
	cfg.GuildID = envString("GUILD_ID", cfg.GuildID)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Logs.Dir = envString("LOG_DIR", cfg.Logs.Dir)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Permissions.AuthorizedUser = envString("AUTHORIZED_USER", cfg.Permissions.AuthorizedUser)
	cfg.Permissions.OwnerIDs = envList("OWNER_IDS", cfg.Permissions.OwnerIDs)
	cfg.Permissions.AdminRoleIDs = envList("ADMIN_ROLE_IDS", cfg.Permissions.AdminRoleIDs)
	cfg.Permissions.ModeratorRoleIDs = envList("MODERATOR_ROLE_IDS", cfg.Permissions.ModeratorRoleIDs)
	cfg.Moderation.MuteRoleName = envString("MUTE_ROLE_NAME", cfg.Moderation.MuteRoleName)
	cfg.Moderation.LogChannelID = envString("LOG_CHANNEL_ID", cfg.Moderation.LogChannelID)
	cfg.Moderation.ModRoleID = envString("MOD_ROLE_ID", cfg.Moderation.ModRoleID)
	cfg.Moderation.AutomodEnabled = envBool("AUTOMOD_ENABLED", cfg.Moderation.AutomodEnabled)
	cfg.Moderation.AutomodAuditOnly = envBool("AUTOMOD_AUDIT_ONLY", cfg.Moderation.AutomodAuditOnly)
	cfg.Moderation.BannedWordsFile = envString("BANNED_WORDS_FILE", cfg.Moderation.BannedWordsFile)
	cfg.Moderation.BlockedDomains = envList("BLOCKED_DOMAINS", cfg.Moderation.BlockedDomains)
	cfg.Leveling.Enabled = envBool("LEVELING_ENABLED", cfg.Leveling.Enabled)
	cfg.Leveling.Announce = envBool("LEVELUP_ANNOUNCE", cfg.Leveling.Announce)
	cfg.Leveling.AnnounceChannelID = envString("LEVELUP_CHANNEL_ID", cfg.Leveling.AnnounceChannelID)
	cfg.Leveling.StoreTimeoutSeconds = envInt("LEVELING_STORE_TIMEOUT_SECONDS", cfg.Leveling.StoreTimeoutSeconds)
	cfg.Leveling.SettleWindowSeconds = envInt("LEVELING_SETTLE_WINDOW_SECONDS", cfg.Leveling.SettleWindowSeconds)
	cfg.Sync.Concurrency = envInt("SYNC_CONCURRENCY", cfg.Sync.Concurrency)
	cfg.Sync.RequestsPerSecond = envFloat("SYNC_REQUESTS_PER_SECOND", cfg.Sync.RequestsPerSecond)
	cfg.Content.FAQPath = envString("FAQ_PATH", cfg.Content.FAQPath)
	cfg.Content.RulesPath = envString("RULES_PATH", cfg.Content.RulesPath)
}

func normalize(cfg *Config) {
	if cfg.Moderation.MuteRoleName == "" {
		cfg.Moderation.MuteRoleName = "Muted"
	}
	if cfg.Leveling.StoreTimeoutSeconds <= 0 {
		cfg.Leveling.StoreTimeoutSeconds = 5
	}
	if cfg.Leveling.SettleWindowSeconds < 0 {
		cfg.Leveling.SettleWindowSeconds = 0
	}
	if cfg.Sync.Concurrency <= 0 {
		cfg.Sync.Concurrency = 1
	}
	if cfg.Sync.RequestsPerSecond <= 0 {
		cfg.Sync.RequestsPerSecond = 4
	}
	if cfg.Sync.Burst <= 0 {
		cfg.Sync.Burst = 1
	}
	if cfg.Sync.ProgressEvery <= 0 {
		cfg.Sync.ProgressEvery = 1000
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
