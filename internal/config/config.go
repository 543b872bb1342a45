// Package config loads the server configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joeblew999/plat-ags/internal/service"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Log      LogConfig               `mapstructure:"log"`
	DataDir  string                  `mapstructure:"data_dir"`
	Journal  JournalConfig           `mapstructure:"journal"`
	Identify IdentifyConfig          `mapstructure:"identify"`
	Viewport service.ViewportConfig  `mapstructure:"viewport"`
	Overlays []service.OverlayConfig `mapstructure:"overlays"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBName  string `mapstructure:"db_name"`
}

type IdentifyConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	Rate      float64       `mapstructure:"rate"` // requests per second, 0 = unlimited
	Burst     int           `mapstructure:"burst"`
	Namespace string        `mapstructure:"namespace"`
}

// Load reads configPath, applying AGS_* environment overrides and
// defaults. An empty or missing path yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8086)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data_dir", ".data")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.db_name", "ags")
	v.SetDefault("identify.timeout", 30*time.Second)
	v.SetDefault("identify.rate", 0)
	v.SetDefault("identify.burst", 1)
	v.SetDefault("identify.namespace", "ags._callbacks")

	d := service.DefaultViewport()
	v.SetDefault("viewport.lng", d.Lng)
	v.SetDefault("viewport.lat", d.Lat)
	v.SetDefault("viewport.zoom", d.Zoom)
	v.SetDefault("viewport.width", d.Width)
	v.SetDefault("viewport.height", d.Height)
	v.SetDefault("viewport.crs", d.CRS)
	v.SetDefault("viewport.zoom_animation", d.ZoomAnimation)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
