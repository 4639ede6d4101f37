package config

import (
	"github.com/smallbiznis/tally/pkg/db"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(func() (Config, error) {
		cfg := Load()
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}),
	fx.Provide(func(cfg Config) db.Config {
		return cfg.DB
	}),
)
