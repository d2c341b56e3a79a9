package sahpool

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config mirrors spec §6.3's recognized configuration options.
type Config struct {
	DefaultCapacity int    `mapstructure:"opfs-sahpool.defaultCapacity"`
	Dir             string `mapstructure:"opfs-sahpool.dir"`
	Verbose         int    `mapstructure:"opfs-verbose"`
	SanityCheck     bool   `mapstructure:"opfs-sanity-check"`
}

// LoadConfig reads Config out of v, applying spec §6.3's defaults for
// any key left unset.
func LoadConfig(v *viper.Viper) (Config, error) {
	v.SetDefault("opfs-sahpool.defaultCapacity", DefaultCapacity)
	v.SetDefault("opfs-sahpool.dir", DefaultDir)
	v.SetDefault("opfs-verbose", 0)
	v.SetDefault("opfs-sanity-check", false)

	// Viper nests dotted keys, so "opfs-sahpool.dir" arrives under an
	// "opfs-sahpool" map; decode through a matching nested shape.
	var raw struct {
		SAHPool struct {
			DefaultCapacity int    `mapstructure:"defaultCapacity"`
			Dir             string `mapstructure:"dir"`
		} `mapstructure:"opfs-sahpool"`
		Verbose     int  `mapstructure:"opfs-verbose"`
		SanityCheck bool `mapstructure:"opfs-sanity-check"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("sahpool: decoding configuration: %w", err)
	}
	cfg := Config{DefaultCapacity: raw.SAHPool.DefaultCapacity, Dir: raw.SAHPool.Dir, Verbose: raw.Verbose, SanityCheck: raw.SanityCheck}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DefaultCapacity <= 0 {
		return fmt.Errorf("sahpool: opfs-sahpool.defaultCapacity must be > 0, got %d", c.DefaultCapacity)
	}
	if c.Dir == "" {
		return fmt.Errorf("sahpool: opfs-sahpool.dir must not be empty")
	}
	if c.Verbose < 0 || c.Verbose > 3 {
		return fmt.Errorf("sahpool: opfs-verbose must be 0-3, got %d", c.Verbose)
	}
	return nil
}
