// Package config содержит логику чтения конфигурации движка подписок.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultRenewInterval  = time.Minute
	defaultRenewWorkers   = 4
	defaultRenewBatchSize = 100
)

// Config содержит параметры конфигурации движка подписок.
// Переменные окружения имеют приоритет над флагами, флаги над значениями по умолчанию.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	NotifyAddress  string        `env:"NOTIFY_ADDRESS"`
	IdentitySecret string        `env:"IDENTITY_SECRET"`
	RenewInterval  time.Duration `env:"RENEW_INTERVAL"`
	RenewWorkers   int           `env:"RENEW_WORKERS"`
	RenewBatchSize int           `env:"RENEW_BATCH_SIZE"`
}

// New возвращает конфигурацию со значениями по умолчанию.
func New() *Config {
	return &Config{
		RunAddress:     defaultRunAddress,
		RenewInterval:  defaultRenewInterval,
		RenewWorkers:   defaultRenewWorkers,
		RenewBatchSize: defaultRenewBatchSize,
	}
}

// BindFlags регистрирует флаги командной строки, записывающие значения в c.
func (c *Config) BindFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&c.RunAddress, "address", "a", c.RunAddress, "address and port for HTTP server")
	flags.StringVarP(&c.DatabaseURI, "database", "d", c.DatabaseURI, "database URI, in-memory storage when empty")
	flags.StringVarP(&c.NotifyAddress, "notify", "n", c.NotifyAddress, "notification service address")
	flags.StringVarP(&c.IdentitySecret, "secret", "s", c.IdentitySecret, "secret for signing requester identity")
	flags.DurationVar(&c.RenewInterval, "renew-interval", c.RenewInterval, "interval between renewal passes")
	flags.IntVar(&c.RenewWorkers, "renew-workers", c.RenewWorkers, "concurrent renewals per pass")
	flags.IntVar(&c.RenewBatchSize, "renew-batch", c.RenewBatchSize, "due subscriptions read per page")
}

// LoadEnv подгружает переменные из файлов dotenv (по умолчанию .env, отсутствие файла не ошибка)
// и применяет заданные переменные окружения поверх текущих значений.
func (c *Config) LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load dotenv: %w", err)
	}
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return c.Validate()
}

// Validate проверяет значения и восстанавливает адрес по умолчанию, если он пуст.
func (c *Config) Validate() error {
	if c.RunAddress == "" {
		c.RunAddress = defaultRunAddress
	}
	if c.RenewInterval <= 0 {
		return fmt.Errorf("renew interval must be positive, got %s", c.RenewInterval)
	}
	if c.RenewWorkers <= 0 {
		return fmt.Errorf("renew workers must be positive, got %d", c.RenewWorkers)
	}
	if c.RenewBatchSize <= 0 {
		return fmt.Errorf("renew batch size must be positive, got %d", c.RenewBatchSize)
	}
	return nil
}

// MemoryMode сообщает, что хранилище PostgreSQL не настроено.
func (c *Config) MemoryMode() bool {
	return c.DatabaseURI == ""
}
