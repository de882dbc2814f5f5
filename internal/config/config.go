package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DISPENSER"

// Config is the process configuration.
type Config struct {
	Port     string
	LogLevel string
	DB       DBConfig
	Serial   SerialConfig
	Auth     AuthConfig
	Sim      SimulatorConfig
}

type DBConfig struct {
	Path string
}

type SerialConfig struct {
	Port           string
	BaudRate       int
	ResetDelay     time.Duration
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	AutoConnect    bool
	// Simulate replaces the serial port with the built-in firmware simulator.
	Simulate bool
}

type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

type SimulatorConfig struct {
	Tick time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("db.path", "dispenser.db")
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.reset_delay", 2*time.Second)
	v.SetDefault("serial.poll_interval", 50*time.Millisecond)
	v.SetDefault("serial.connect_timeout", 10*time.Second)
	v.SetDefault("serial.auto_connect", false)
	v.SetDefault("serial.simulate", false)
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("simulator.tick", time.Second)
}

// Flags registers the command line flags understood by Load.
func Flags(set *pflag.FlagSet) {
	set.String("config", "configs/config.yml", "path to the YAML config file")
	set.String("port", "", "HTTP listen port")
	set.String("serial-port", "", "serial device of the dispenser")
	set.Bool("simulate", false, "use the built-in firmware simulator")
}

// Load reads the config file at path, then environment variables prefixed
// with DISPENSER_, then any flags that were set. flags may be nil. A missing file is
// not an error; defaults apply.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if flags != nil {
		for key, flag := range map[string]string{
			"port":            "port",
			"serial.port":     "serial-port",
			"serial.simulate": "simulate",
		} {
			if f := flags.Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	cfg := Config{
		Port:     v.GetString("port"),
		LogLevel: v.GetString("log_level"),
		DB:       DBConfig{Path: v.GetString("db.path")},
		Serial: SerialConfig{
			Port:           v.GetString("serial.port"),
			BaudRate:       v.GetInt("serial.baud_rate"),
			ResetDelay:     v.GetDuration("serial.reset_delay"),
			PollInterval:   v.GetDuration("serial.poll_interval"),
			ConnectTimeout: v.GetDuration("serial.connect_timeout"),
			AutoConnect:    v.GetBool("serial.auto_connect"),
			Simulate:       v.GetBool("serial.simulate"),
		},
		Auth: AuthConfig{
			SigningKey: v.GetString("auth.signing_key"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
		},
		Sim: SimulatorConfig{Tick: v.GetDuration("simulator.tick")},
	}
	return cfg, cfg.Validate()
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Serial.BaudRate <= 0:
		return fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	case c.Serial.PollInterval <= 0:
		return fmt.Errorf("serial.poll_interval must be positive, got %s", c.Serial.PollInterval)
	case c.Serial.ConnectTimeout <= 0:
		return fmt.Errorf("serial.connect_timeout must be positive, got %s", c.Serial.ConnectTimeout)
	case c.Serial.ResetDelay < 0:
		return fmt.Errorf("serial.reset_delay must not be negative, got %s", c.Serial.ResetDelay)
	case c.Auth.SigningKey == "":
		return errors.New("auth.signing_key is required")
	case c.Auth.TokenTTL <= 0:
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	case c.Sim.Tick <= 0:
		return fmt.Errorf("simulator.tick must be positive, got %s", c.Sim.Tick)
	}
	return nil
}
