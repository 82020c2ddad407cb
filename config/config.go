package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Database  DatabaseConfig  `json:"database" mapstructure:"database"`
	Warehouse WarehouseConfig `json:"warehouse" mapstructure:"warehouse"`
	HubSpot   HubSpotConfig   `json:"hubspot" mapstructure:"hubspot"`
	Sync      SyncConfig      `json:"sync" mapstructure:"sync"`
	JWT       JWTConfig       `json:"jwt" mapstructure:"jwt"`
	Email     EmailConfig     `json:"email" mapstructure:"email"`
	Log       LogConfig       `json:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Port string `json:"port" mapstructure:"port"`
	Mode string `json:"mode" mapstructure:"mode"` // debug, release
}

// DatabaseConfig 元数据库（同步记录、日志）
type DatabaseConfig struct {
	Type     string `json:"type" mapstructure:"type"` // mysql, postgres, sqlite
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	DBName   string `json:"dbname" mapstructure:"dbname"`
	Path     string `json:"path" mapstructure:"path"` // sqlite 文件
}

// WarehouseConfig HubSpot 数据写入的 MySQL
type WarehouseConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         string `json:"port" mapstructure:"port"`
	User         string `json:"user" mapstructure:"user"`
	Password     string `json:"password" mapstructure:"password"`
	DBName       string `json:"dbname" mapstructure:"dbname"`
	MaxOpenConns int    `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns" mapstructure:"max_idle_conns"`
}

type HubSpotConfig struct {
	AccessToken string `json:"access_token" mapstructure:"access_token"`
	BaseURL     string `json:"base_url" mapstructure:"base_url"`
	Timeout     int    `json:"timeout" mapstructure:"timeout"` // 秒
}

type SyncConfig struct {
	Schedule               string `json:"schedule" mapstructure:"schedule"` // cron 表达式（带秒），为空不启用
	ScheduleDays           int    `json:"schedule_days" mapstructure:"schedule_days"`
	DefaultDays            int    `json:"default_days" mapstructure:"default_days"` // HTTP 触发未指定窗口时
	PageSize               int    `json:"page_size" mapstructure:"page_size"`
	PageDelayMS            int    `json:"page_delay_ms" mapstructure:"page_delay_ms"`
	BatchDelayMS           int    `json:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	MaxAttempts            int    `json:"max_attempts" mapstructure:"max_attempts"`
	MaxConsecutiveFailures int    `json:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	DefaultRetryAfter      int    `json:"default_retry_after" mapstructure:"default_retry_after"` // 秒
	Timezone               string `json:"timezone" mapstructure:"timezone"`
	NotifyEmail            string `json:"notify_email" mapstructure:"notify_email"`
}

type JWTConfig struct {
	Secret     string `json:"secret" mapstructure:"secret"`
	ExpireTime int    `json:"expire_time" mapstructure:"expire_time"` // 小时
	APIKeyHash string `json:"api_key_hash" mapstructure:"api_key_hash"` // bcrypt
}

type EmailConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	From     string `json:"from" mapstructure:"from"`
}

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"` // json, console
}

var GlobalConfig *Config

// EnvPrefix 环境变量前缀，如 HUBSYNC_HUBSPOT_ACCESS_TOKEN
const EnvPrefix = "HUBSYNC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "hubsync")
	v.SetDefault("database.path", "hubsync.db")

	v.SetDefault("warehouse.host", "localhost")
	v.SetDefault("warehouse.port", "3306")
	v.SetDefault("warehouse.user", "root")
	v.SetDefault("warehouse.password", "")
	v.SetDefault("warehouse.dbname", "hubspot")
	v.SetDefault("warehouse.max_open_conns", 10)
	v.SetDefault("warehouse.max_idle_conns", 5)

	v.SetDefault("hubspot.access_token", "")
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.timeout", 30)

	v.SetDefault("sync.schedule", "")
	v.SetDefault("sync.schedule_days", 1)
	v.SetDefault("sync.default_days", 30)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.page_delay_ms", 100)
	v.SetDefault("sync.batch_delay_ms", 200)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.max_consecutive_failures", 8)
	v.SetDefault("sync.default_retry_after", 10)
	v.SetDefault("sync.timezone", "UTC")
	v.SetDefault("sync.notify_email", "")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expire_time", 24)
	v.SetDefault("jwt.api_key_hash", "")

	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load 读取配置：.env -> 配置文件(JSON) -> 环境变量，后者覆盖前者
func Load(path string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// LoadConfig 加载配置到 GlobalConfig
func LoadConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// Validate 检查同步必需的配置
func (c *Config) Validate() error {
	if c.HubSpot.AccessToken == "" {
		return errors.New("缺少 HubSpot access token (hubspot.access_token)")
	}
	if c.Warehouse.Host == "" || c.Warehouse.DBName == "" {
		return errors.New("缺少目标 MySQL 配置 (warehouse)")
	}
	return nil
}
