package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service. Keys map one to one to
// upper-case environment variables (db_driver -> DB_DRIVER).
type Config struct {
	Port string `mapstructure:"port" validate:"required"`

	DBDriver           string `mapstructure:"db_driver" validate:"oneof=postgres sqlite"`
	DBConnectionString string `mapstructure:"db_connection_string" validate:"required"`

	GoogleClientID     string `mapstructure:"google_client_id"`
	GoogleClientSecret string `mapstructure:"google_client_secret"`
	GoogleTasksURL     string `mapstructure:"google_tasks_url" validate:"omitempty,url"`

	NotionAPIURL  string `mapstructure:"notion_api_url" validate:"required,url"`
	NotionVersion string `mapstructure:"notion_version" validate:"required"`

	MailjetAPIKey             string `mapstructure:"mailjet_api_key"`
	MailjetSecretKey          string `mapstructure:"mailjet_secret_key" validate:"required_with=MailjetAPIKey"`
	MailjetTemplateID         int    `mapstructure:"mailjet_template_id" validate:"required_with=MailjetAPIKey"`
	MailjetReminderTemplateID int    `mapstructure:"mailjet_reminder_template_id"`

	ReportBucket          string `mapstructure:"report_bucket"`
	ReportPrefix          string `mapstructure:"report_prefix"`
	ReportProvider        string `mapstructure:"report_provider" validate:"omitempty,oneof=aws minio custom"`
	ReportRegion          string `mapstructure:"report_region"`
	ReportEndpoint        string `mapstructure:"report_endpoint" validate:"omitempty,url"`
	ReportAccessKeyID     string `mapstructure:"report_access_key_id"`
	ReportSecretAccessKey string `mapstructure:"report_secret_access_key" validate:"required_with=ReportAccessKeyID"`
	ReportPathStyle       bool   `mapstructure:"report_path_style"`

	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	ReminderCron  string        `mapstructure:"reminder_cron" validate:"required"`
	ReminderDelay time.Duration `mapstructure:"reminder_delay" validate:"gte=0"`

	ListRateLimit int           `mapstructure:"list_rate_limit" validate:"min=1"`
	DBRateLimit   int           `mapstructure:"db_rate_limit" validate:"min=1"`
	RateWindow    time.Duration `mapstructure:"rate_window" validate:"gt=0"`
	PageSize      int64         `mapstructure:"page_size" validate:"min=1,max=100"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout" validate:"gt=0"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_connection_string", "tasksync.db?_time_format=sqlite")
	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")
	v.SetDefault("google_tasks_url", "")
	v.SetDefault("notion_api_url", "https://api.notion.com")
	v.SetDefault("notion_version", "2022-06-28")
	v.SetDefault("mailjet_api_key", "")
	v.SetDefault("mailjet_secret_key", "")
	v.SetDefault("mailjet_template_id", 0)
	v.SetDefault("mailjet_reminder_template_id", 0)
	v.SetDefault("report_bucket", "")
	v.SetDefault("report_prefix", "")
	v.SetDefault("report_provider", "aws")
	v.SetDefault("report_region", "")
	v.SetDefault("report_endpoint", "")
	v.SetDefault("report_access_key_id", "")
	v.SetDefault("report_secret_access_key", "")
	v.SetDefault("report_path_style", false)
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("reminder_cron", "0 * * * *")
	v.SetDefault("reminder_delay", "24h")
	v.SetDefault("list_rate_limit", 3)
	v.SetDefault("db_rate_limit", 3)
	v.SetDefault("rate_window", "1s")
	v.SetDefault("page_size", 100)
	v.SetDefault("notify_timeout", "30s")
}

// Load reads configuration from defaults, an optional config file, a .env
// file in the working directory and the environment, in increasing order of
// precedence.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(viper.New(), configFile)
}

// LoadFrom populates cfg from v, which lets callers bind flags first
func LoadFrom(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// MailjetEnabled reports whether emails can be sent
func (c *Config) MailjetEnabled() bool {
	return c.MailjetAPIKey != "" && c.MailjetSecretKey != ""
}

// ReportsEnabled reports whether sync reports are archived to a bucket
func (c *Config) ReportsEnabled() bool {
	return c.ReportBucket != ""
}
