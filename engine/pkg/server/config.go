package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/lottery/engine/pkg/config"
	"github.com/malbeclabs/lottery/engine/pkg/node"
)

type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	Node              *node.Node
	App               *config.Config
	VersionInfo       VersionInfo
	ReadHeaderTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Node == nil {
		return errors.New("node is required")
	}
	if cfg.App == nil {
		return errors.New("app config is required")
	}
	if cfg.App.RateLimit.RequestsPerMinute <= 0 {
		return errors.New("rate limit must be greater than 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.App.ShutdownTimeout <= 0 {
		cfg.App.ShutdownTimeout = 10 * time.Second
	}
	return nil
}
