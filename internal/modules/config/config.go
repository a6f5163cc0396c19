package config

import (
	"bytes"
	"os"
	"regexp"
	"strings"
	"time"

	"hunter_bot/internal/broker"
	"hunter_bot/internal/executor"
	"hunter_bot/internal/instructions"
	"hunter_bot/internal/journal"
	"hunter_bot/internal/monitor"
	"hunter_bot/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	defaultConfigFile = "configs/values_local.yaml"
	envPrefix         = "HUNTER"
)

var (
	ErrMissingEnv      = errors.New("config: environment variable not found")
	ErrMissingSetting  = errors.New("config: required setting missing")
	ErrInvalidDuration = errors.New("config: invalid duration")
)

var requiredKeys = []string{
	"broker.platform",
	"broker.server",
	"broker.login",
	"broker.password",
	"general.update_interval",
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type Config struct {
	Service struct {
		Name  string `mapstructure:"name"`
		Debug bool   `mapstructure:"debug"`
	} `mapstructure:"service"`

	Broker struct {
		Platform  string        `mapstructure:"platform"`
		Server    string        `mapstructure:"server"`
		Login     int64         `mapstructure:"login"`
		Password  string        `mapstructure:"password"`
		BridgeURL string        `mapstructure:"bridge_url"`
		StreamURL string        `mapstructure:"stream_url"`
		Timeout   time.Duration `mapstructure:"-"`
	} `mapstructure:"broker"`

	Paper struct {
		Balance  float64                  `mapstructure:"balance"`
		Currency string                   `mapstructure:"currency"`
		Leverage int                      `mapstructure:"leverage"`
		Quotes   map[string]QuoteSeedYAML `mapstructure:"quotes"`
	} `mapstructure:"paper"`

	// General — секция цикла мониторинга; длительности в секундах или "1s"/"500ms".
	General struct {
		UpdateInterval time.Duration `mapstructure:"-"`
		StopTimeout    time.Duration `mapstructure:"-"`
		QuoteTTL       time.Duration `mapstructure:"-"`
	} `mapstructure:"-"`

	Executor struct {
		MaxRetries     int           `mapstructure:"max_retries"`
		RetryDelay     time.Duration `mapstructure:"-"`
		DefaultComment string        `mapstructure:"default_comment"`
	} `mapstructure:"executor"`

	Instructions struct {
		File     string `mapstructure:"file"`
		Autosave bool   `mapstructure:"autosave"`
	} `mapstructure:"instructions"`

	Journal struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"journal"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	Health struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"health"`

	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"api"`

	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"tracing"`
}

type QuoteSeedYAML struct {
	Bid float64 `mapstructure:"bid"`
	Ask float64 `mapstructure:"ask"`
}

// NewConfig — fx-провайдер: .env, затем файл из CONFIG_FILE.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv(configFilePathENV)
	if path == "" {
		path = defaultConfigFile
	}
	return Load(path)
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(raw)
}

// Parse подставляет ${ENV}, валидирует обязательные ключи и применяет HUNTER_* оверрайды.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	for _, key := range requiredKeys {
		if !v.InConfig(key) && os.Getenv(envKey(key)) == "" {
			return nil, errors.Wrapf(ErrMissingSetting, "%s", key)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"general.update_interval", &cfg.General.UpdateInterval},
		{"general.stop_timeout", &cfg.General.StopTimeout},
		{"general.quote_ttl", &cfg.General.QuoteTTL},
		{"executor.retry_delay", &cfg.Executor.RetryDelay},
		{"broker.timeout", &cfg.Broker.Timeout},
	}
	for _, d := range durations {
		val, err := seconds(v.Get(d.key))
		if err != nil {
			return nil, errors.Wrapf(err, "%s", d.key)
		}
		*d.dst = val
	}
	if cfg.General.UpdateInterval <= 0 {
		return nil, errors.Wrap(ErrInvalidDuration, "general.update_interval must be positive")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "hunter_bot")
	v.SetDefault("general.stop_timeout", "5s")
	v.SetDefault("general.quote_ttl", "5s")
	v.SetDefault("executor.max_retries", executor.DefaultMaxRetries)
	v.SetDefault("executor.retry_delay", "1s")
	v.SetDefault("broker.timeout", "10s")
	v.SetDefault("paper.balance", 10000.0)
	v.SetDefault("paper.currency", "USD")
	v.SetDefault("paper.leverage", 100)
	v.SetDefault("instructions.file", instructions.DefaultPath)
	v.SetDefault("instructions.autosave", true)
	v.SetDefault("journal.driver", journal.DriverMemory)
	v.SetDefault("health.addr", ":8080")
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8090")
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)
}

func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func expandEnv(raw []byte) ([]byte, error) {
	var missing []string
	out := placeholder.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(placeholder.FindSubmatch(m)[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return []byte(val)
	})
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrMissingEnv, "%s", strings.Join(missing, ", "))
	}
	return out, nil
}

// seconds: число — секунды, строка — time.ParseDuration либо число секунд.
func seconds(v any) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidDuration, "%v", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func (c *Config) BrokerConfig() broker.Config {
	out := broker.Config{
		Platform:  c.Broker.Platform,
		Server:    c.Broker.Server,
		Login:     c.Broker.Login,
		Password:  c.Broker.Password,
		BridgeURL: c.Broker.BridgeURL,
		Timeout:   c.Broker.Timeout,
		StreamURL: c.Broker.StreamURL,
		Paper: broker.PaperConfig{
			Balance:  c.Paper.Balance,
			Currency: c.Paper.Currency,
			Leverage: c.Paper.Leverage,
		},
	}
	if len(c.Paper.Quotes) > 0 {
		out.Paper.Quotes = make(map[string]broker.QuoteSeed, len(c.Paper.Quotes))
		for sym, q := range c.Paper.Quotes {
			// viper приводит ключи к нижнему регистру
			out.Paper.Quotes[strings.ToUpper(sym)] = broker.QuoteSeed{Bid: q.Bid, Ask: q.Ask}
		}
	}
	return out
}

func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		UpdateInterval: c.General.UpdateInterval,
		StopTimeout:    c.General.StopTimeout,
		QuoteTTL:       c.General.QuoteTTL,
	}
}

func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		MaxRetries:     c.Executor.MaxRetries,
		RetryDelay:     c.Executor.RetryDelay,
		DefaultComment: c.Executor.DefaultComment,
	}
}

func (c *Config) JournalConfig() journal.Config {
	return journal.Config{Driver: c.Journal.Driver, DSN: c.Journal.DSN}
}

func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{Host: c.Tracing.Host, Port: c.Tracing.Port}
}
