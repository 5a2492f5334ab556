package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/hemolink/donor-api/internal/model"
	"github.com/hemolink/donor-api/pkg/messaging/redis"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Matching MatchingConfig
	Email    EmailConfig
	Outbox   OutboxConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
	RateLimitRPS   int `mapstructure:"rateLimitRps"`
	RateLimitBurst int `mapstructure:"rateLimitBurst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

// MatchingConfig carries every knob of the escalation engine. Defaults
// follow the urgency-tiered deadlines and radii described in the
// operations runbook: critical waves time out in 15 minutes, routine
// searches start at 50 km, emergencies at up to 200 km.
type MatchingConfig struct {
	CooldownDays      int     `mapstructure:"cooldown_days"`
	PreferredIdleDays int     `mapstructure:"preferred_idle_days"`
	MinCandidates     int     `mapstructure:"min_candidates"`
	CandidatesPerWave int     `mapstructure:"candidates_per_wave"`
	MaxWaves          int     `mapstructure:"max_waves"`
	RadiusGrowth      float64 `mapstructure:"radius_growth"`
	MaxRadiusKM       float64 `mapstructure:"max_radius_km"`

	BaseRadiusKM map[string]float64       `mapstructure:"base_radius_km"`
	WaveDeadline map[string]time.Duration `mapstructure:"wave_deadline"`
}

// Cooldown returns the medical cooldown window.
func (m MatchingConfig) Cooldown() time.Duration {
	return time.Duration(m.CooldownDays) * 24 * time.Hour
}

// PreferredIdle returns the extra idle buffer applied on strict waves.
func (m MatchingConfig) PreferredIdle() time.Duration {
	return time.Duration(m.PreferredIdleDays) * 24 * time.Hour
}

// BaseRadiusFor returns the wave-0 search radius for an urgency level.
func (m MatchingConfig) BaseRadiusFor(u model.Urgency) float64 {
	if r, ok := m.BaseRadiusKM[string(u)]; ok && r > 0 {
		return r
	}
	return 50
}

// WaveDeadlineFor returns the per-wave response deadline for an urgency
// level.
func (m MatchingConfig) WaveDeadlineFor(u model.Urgency) time.Duration {
	if d, ok := m.WaveDeadline[string(u)]; ok && d > 0 {
		return d
	}
	return 30 * time.Minute
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

func (r RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          r.URL,
		MaxRetries:   r.MaxRetries,
		RetryBackoff: r.RetryBackoff,
		PoolSize:     r.PoolSize,
		MinIdleConns: r.MinIdleConns,
	}
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)
	viper.SetDefault("server.rateLimitRps", 50)
	viper.SetDefault("server.rateLimitBurst", 100)

	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", "100ms")
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	viper.SetDefault("jwt.expiry_hours", 24)

	viper.SetDefault("matching.cooldown_days", 56)
	viper.SetDefault("matching.preferred_idle_days", 14)
	viper.SetDefault("matching.min_candidates", 3)
	viper.SetDefault("matching.candidates_per_wave", 5)
	viper.SetDefault("matching.max_waves", 3)
	viper.SetDefault("matching.radius_growth", 1.5)
	viper.SetDefault("matching.max_radius_km", 200)
	viper.SetDefault("matching.base_radius_km", map[string]float64{
		"low": 50, "medium": 50, "high": 100, "critical": 200,
	})
	viper.SetDefault("matching.wave_deadline", map[string]string{
		"low": "6h", "medium": "2h", "high": "30m", "critical": "15m",
	})

	viper.SetDefault("outbox.batch_size", 100)
	viper.SetDefault("outbox.poll_interval", "5s")
	viper.SetDefault("outbox.retry_attempts", 3)
	viper.SetDefault("outbox.retry_delay", "5s")
}
