package main

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"

	"github.com/lox/wordchain/cmd/wordchain/shared"
	"github.com/lox/wordchain/internal/client"
	"github.com/lox/wordchain/internal/config"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string        `short:"c" default:"wordchain.hcl" type:"path" help:"Configuration file"`
	LogLevel string        `name:"log-level" help:"Override the configured log level"`
	JSONLogs bool          `name:"json-logs" help:"Emit structured JSON logs"`
	NoColor  bool          `name:"no-color" env:"NO_COLOR" help:"Disable colored output"`
	Server   string        `default:"http://localhost:8080" env:"WORDCHAIN_SERVER" help:"Server URL for remote commands"`
	Token    string        `env:"WORDCHAIN_TOKEN" help:"Bearer token for remote commands"`
	Timeout  time.Duration `default:"10s" help:"Timeout for each remote call"`
}

func (g *Globals) applyColor() {
	if g.NoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// logger builds the process logger. The flag wins over the configured level.
func (g *Globals) logger(configured string) (*log.Logger, error) {
	level := configured
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	if level == "" {
		level = "info"
	}
	if g.JSONLogs {
		return shared.SetupStructuredLogger(level)
	}
	return shared.SetupLogger(level)
}

func (g *Globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *Globals) client(logger *log.Logger, opts ...client.Option) *client.Client {
	opts = append([]client.Option{client.WithTimeout(g.Timeout)}, opts...)
	return client.New(g.Server, g.Token, logger, opts...)
}
