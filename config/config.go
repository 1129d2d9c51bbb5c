package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: DIVELOG_SERVER_PORT=9090.
const EnvPrefix = "DIVELOG"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Social   SocialConfig   `mapstructure:"social"`
	Mail     MailConfig     `mapstructure:"mail"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Mode       string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath string        `mapstructure:"sqlite_path"`
	DSN        string        `mapstructure:"dsn"`
	MaxOpen    int           `mapstructure:"max_open"`
	MaxIdle    int           `mapstructure:"max_idle"`
	MaxLife    time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalMaxEntries int           `mapstructure:"local_max_entries"`
	LocalBusBuffer  int           `mapstructure:"local_bus_buffer"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AdminIPs restricts /api/admin to these client IPs. Empty allows all.
	AdminIPs []string `mapstructure:"admin_ips"`
	// AllowedOrigins limits WebSocket Origin headers. Empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type SocialConfig struct {
	FriendLimit        int           `mapstructure:"friend_limit"`
	FriendsOnlyMutual  bool          `mapstructure:"friends_only_mutual"`
	AtomicApproval     bool          `mapstructure:"atomic_approval"`
	MirrorRetries      int           `mapstructure:"mirror_retries"`
	MirrorRetryBackoff time.Duration `mapstructure:"mirror_retry_backoff"`
	RepairInterval     time.Duration `mapstructure:"repair_interval"`
	RepairBatch        int           `mapstructure:"repair_batch"`
	StoreTimeout       time.Duration `mapstructure:"store_timeout"`
}

type MailConfig struct {
	From    string `mapstructure:"from"`
	Enabled bool   `mapstructure:"enabled"`
}

// Load reads config from the given YAML file path. A .env file in the
// working directory, if present, is loaded into the environment first, and
// DIVELOG_* variables override file values. An empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/divelog.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "divelog:")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_max_entries", 100000)
	v.SetDefault("cache.local_bus_buffer", 256)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("security.admin_ips", []string{})
	v.SetDefault("security.allowed_origins", []string{})
	v.SetDefault("social.friend_limit", 100)
	v.SetDefault("social.friends_only_mutual", false)
	v.SetDefault("social.atomic_approval", true)
	v.SetDefault("social.mirror_retries", 3)
	v.SetDefault("social.mirror_retry_backoff", "50ms")
	v.SetDefault("social.repair_interval", "10m")
	v.SetDefault("social.repair_batch", 500)
	v.SetDefault("social.store_timeout", "5s")
	v.SetDefault("mail.from", "no-reply@divelog.local")
	v.SetDefault("mail.enabled", true)
}
