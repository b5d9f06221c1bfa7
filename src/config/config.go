package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Mail      MailConfig      `mapstructure:"mail"`
	AWS       AWSConfig       `mapstructure:"aws"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServiceType string

const (
	API    ServiceType = "API"
	WORKER ServiceType = "WORKER"
)

type ServiceConfig struct {
	Type ServiceType `mapstructure:"type"`
	Port string      `mapstructure:"port"`
}

type DatabasesConfig struct {
	SQL   SQLConfig   `mapstructure:"sql"`
	Redis RedisConfig `mapstructure:"redis"`
}

type SQLConfig struct {
	Host             string `mapstructure:"host"`
	Port             string `mapstructure:"port"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	Driver           string `mapstructure:"driver"`
	Database         string `mapstructure:"database"`
	ConnectionString string `mapstructure:"connection_string"`
}

// DSN returns the connection string, building one from the discrete fields
// when no explicit connection string is configured.
func (c SQLConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Host,
		c.Username,
		c.Password,
		c.Database,
		c.Port)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
	TLS      bool   `mapstructure:"tls"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	TickInterval      time.Duration `mapstructure:"tickInterval"`
	DeliveryLedgerTTL time.Duration `mapstructure:"deliveryLedgerTTL"`
	// MaxRows caps the rows extracted for one report; zero means no cap.
	MaxRows int `mapstructure:"maxRows"`
}

type MailConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	PasswordSecretID string `mapstructure:"passwordSecretId"`
	From             string `mapstructure:"from"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	ToFile   bool   `mapstructure:"toFile"`
	FilePath string `mapstructure:"filePath"`
}

// LoadConfig reads appsettings.yaml (or appsettings.<env>.yaml) from path.
// Values from a local .env file and the process environment take precedence,
// e.g. MAIL_PASSWORD overrides mail.password.
func LoadConfig(path string, env string) (*Config, error) {
	var cfg Config

	// A missing .env is fine, it only exists on developer machines.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	configName := "appsettings"
	if env != "" {
		configName = fmt.Sprintf("appsettings.%s", env)
	}
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		return nil, err
	}
	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.type", string(WORKER))
	v.SetDefault("service.port", "8000")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tickInterval", time.Minute)
	v.SetDefault("scheduler.deliveryLedgerTTL", 72*time.Hour)
	v.SetDefault("scheduler.maxRows", 50000)
	v.SetDefault("mail.port", 587)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("logging.level", "info")
}
