package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arzzra/q931/pkg/lapd"
	"github.com/arzzra/q931/pkg/q931"
)

// Config конфигурация демона
type Config struct {
	// LogLevel уровень журнала: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// MetricsAddr адрес HTTP сервера метрик; пустой отключает сервер
	MetricsAddr string `yaml:"metrics_addr"`

	Answer     AnswerConfig      `yaml:"auto_answer"`
	Interfaces []InterfaceConfig `yaml:"interfaces"`
	Bridges    []BridgeConfig    `yaml:"bridges"`
}

// InterfaceConfig интерфейс Q.931 вместе с его звеном данных
type InterfaceConfig struct {
	q931.InterfaceConfig `yaml:",inline"`
	Link                 LinkConfig `yaml:"link"`
}

// LinkConfig звено данных интерфейса: локальный сокет или удаленный мост
type LinkConfig struct {
	Socket   *lapd.SocketConfig `yaml:"socket"`
	Backhaul *BackhaulConfig    `yaml:"backhaul"`
}

// BackhaulConfig подключение к мосту QUIC
type BackhaulConfig struct {
	Addr        string        `yaml:"addr"`
	Insecure    bool          `yaml:"insecure"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// BridgeConfig экспорт локального сокета LAPD через QUIC
type BridgeConfig struct {
	Listen string            `yaml:"listen"`
	Cert   string            `yaml:"cert"`
	Key    string            `yaml:"key"`
	Socket lapd.SocketConfig `yaml:"socket"`
}

// AnswerConfig демонстрационное приложение автоответа
type AnswerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Alerting отправлять ALERTING перед ответом
	Alerting bool `yaml:"alerting"`
	// HangupAfter разъединение после ответа; 0 оставляет вызов до
	// разъединения удаленной стороной
	HangupAfter time.Duration `yaml:"hangup_after"`
}

var errInvalidConfig = errors.New("invalid configuration")

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		MetricsAddr: ":9931",
	}
}

// LoadConfig читает конфигурацию из YAML файла
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig разбирает YAML и проверяет конфигурацию
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет то, что не проверяет движок при открытии интерфейса
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: log_level %q", errInvalidConfig, c.LogLevel)
	}
	if len(c.Interfaces) == 0 && len(c.Bridges) == 0 {
		return fmt.Errorf("%w: no interfaces and no bridges", errInvalidConfig)
	}

	names := make(map[string]bool)
	for n, intf := range c.Interfaces {
		if intf.Name == "" {
			return fmt.Errorf("%w: interface #%d has no name", errInvalidConfig, n)
		}
		if names[intf.Name] {
			return fmt.Errorf("%w: duplicate interface %q", errInvalidConfig, intf.Name)
		}
		names[intf.Name] = true

		link := intf.Link
		if (link.Socket == nil) == (link.Backhaul == nil) {
			return fmt.Errorf("%w: interface %q needs exactly one of link.socket and link.backhaul",
				errInvalidConfig, intf.Name)
		}
		if link.Backhaul != nil && link.Backhaul.Addr == "" {
			return fmt.Errorf("%w: interface %q: empty backhaul address", errInvalidConfig, intf.Name)
		}
		if link.Socket != nil && link.Socket.Device == "" {
			return fmt.Errorf("%w: interface %q: empty socket device", errInvalidConfig, intf.Name)
		}

		role := intf.Role
		if role == "" {
			role = q931.RoleTE
		}
		known := q931.DefaultTimers(role)
		for id := range intf.Timers {
			if _, ok := known[id]; !ok {
				return fmt.Errorf("%w: interface %q: unknown timer %s for role %s",
					errInvalidConfig, intf.Name, id, role)
			}
		}
	}

	for n, b := range c.Bridges {
		if b.Listen == "" || b.Socket.Device == "" {
			return fmt.Errorf("%w: bridge #%d needs listen and socket.device", errInvalidConfig, n)
		}
		if (b.Cert == "") != (b.Key == "") {
			return fmt.Errorf("%w: bridge #%d: cert and key go together", errInvalidConfig, n)
		}
	}

	if c.Answer.HangupAfter < 0 {
		return fmt.Errorf("%w: negative auto_answer.hangup_after", errInvalidConfig)
	}
	return nil
}

// Level уровень журнала slog
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}
