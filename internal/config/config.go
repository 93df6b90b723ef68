// Package config loads the wordchain HCL configuration file and applies
// environment overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/wordchain/internal/ledger"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "wordchain.hcl"

// Config is the complete configuration.
type Config struct {
	Server     ServerSettings
	Game       GameSettings
	Chain      ChainSettings
	Watchdog   WatchdogSettings
	Answers    AnswersSettings
	Auth       AuthSettings
	Identities []Identity
}

// ServerSettings controls the HTTP API.
type ServerSettings struct {
	Address          string `hcl:"address,optional"`
	Port             int    `hcl:"port,optional"`
	LogLevel         string `hcl:"log_level,optional"`
	Snapshot         string `hcl:"snapshot,optional"`
	SnapshotInterval string `hcl:"snapshot_interval,optional"`
}

// GameSettings seeds the ledger's configuration row on first start.
type GameSettings struct {
	Admin              string  `hcl:"admin,optional"`
	EntryFee           uint64  `hcl:"entry_fee,optional"`
	TreasuryFeePercent *uint64 `hcl:"treasury_fee_percent,optional"`
	RoundDuration      uint64  `hcl:"round_duration,optional"`
}

// ChainSettings controls the local block producer.
type ChainSettings struct {
	BlockInterval string `hcl:"block_interval,optional"`
	StartHeight   uint64 `hcl:"start_height,optional"`
}

// WatchdogSettings controls automatic reveals.
type WatchdogSettings struct {
	Enabled     *bool  `hcl:"enabled,optional"`
	Interval    string `hcl:"interval,optional"`
	Window      uint64 `hcl:"window,optional"`
	CallTimeout string `hcl:"call_timeout,optional"`
	Signer      string `hcl:"signer,optional"`
}

// AnswersSettings locates the answer cache. An empty path keeps answers in
// memory.
type AnswersSettings struct {
	Path string `hcl:"path,optional"`
}

// AuthSettings configures an optional external token validator.
type AuthSettings struct {
	URL         string `hcl:"url,optional"`
	AdminSecret string `hcl:"admin_secret,optional"`
	Timeout     string `hcl:"timeout,optional"`
	// Insecure accepts any token as its own principal.
	Insecure bool `hcl:"insecure,optional"`
}

// Identity binds a static bearer token to a principal.
type Identity struct {
	Principal string `hcl:"principal,label"`
	Token     string `hcl:"token"`
}

// file mirrors Config with optional blocks.
type file struct {
	Server     *ServerSettings   `hcl:"server,block"`
	Game       *GameSettings     `hcl:"game,block"`
	Chain      *ChainSettings    `hcl:"chain,block"`
	Watchdog   *WatchdogSettings `hcl:"watchdog,block"`
	Answers    *AnswersSettings  `hcl:"answers,block"`
	Auth       *AuthSettings     `hcl:"auth,block"`
	Identities []Identity        `hcl:"identity,block"`
}

// Environment overrides.
type overrides struct {
	Addr        string `env:"WORDCHAIN_ADDR"`
	Admin       string `env:"WORDCHAIN_ADMIN"`
	AdminToken  string `env:"WORDCHAIN_ADMIN_TOKEN"`
	LogLevel    string `env:"WORDCHAIN_LOG_LEVEL"`
	Snapshot    string `env:"WORDCHAIN_SNAPSHOT"`
	AnswersPath string `env:"WORDCHAIN_ANSWERS_PATH"`
	Signer      string `env:"WORDCHAIN_SIGNER"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	enabled := true
	fee := ledger.DefaultTreasuryFeePercent
	return &Config{
		Server: ServerSettings{
			Address:          "localhost",
			Port:             8080,
			LogLevel:         "info",
			Snapshot:         "wordchain-state.json",
			SnapshotInterval: "30s",
		},
		Game: GameSettings{
			EntryFee:           ledger.DefaultEntryFee,
			TreasuryFeePercent: &fee,
			RoundDuration:      ledger.DefaultRoundDuration,
		},
		Chain: ChainSettings{
			BlockInterval: "10m",
			StartHeight:   1,
		},
		Watchdog: WatchdogSettings{
			Enabled:     &enabled,
			Interval:    "60s",
			Window:      20,
			CallTimeout: "10s",
		},
		Auth: AuthSettings{
			Timeout: "500ms",
		},
	}
}

// Load reads filename, filling unset values with defaults. A missing file
// yields the defaults. Environment overrides are applied last.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(filename); err == nil {
		parser := hclparse.NewParser()
		f, diags := parser.ParseHCLFile(filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
		}
		var parsed file
		if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
		}
		cfg.merge(parsed)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(f file) {
	if s := f.Server; s != nil {
		setString(&c.Server.Address, s.Address)
		if s.Port != 0 {
			c.Server.Port = s.Port
		}
		setString(&c.Server.LogLevel, s.LogLevel)
		setString(&c.Server.Snapshot, s.Snapshot)
		setString(&c.Server.SnapshotInterval, s.SnapshotInterval)
	}
	if g := f.Game; g != nil {
		setString(&c.Game.Admin, g.Admin)
		setUint(&c.Game.EntryFee, g.EntryFee)
		if g.TreasuryFeePercent != nil {
			c.Game.TreasuryFeePercent = g.TreasuryFeePercent
		}
		setUint(&c.Game.RoundDuration, g.RoundDuration)
	}
	if ch := f.Chain; ch != nil {
		setString(&c.Chain.BlockInterval, ch.BlockInterval)
		setUint(&c.Chain.StartHeight, ch.StartHeight)
	}
	if w := f.Watchdog; w != nil {
		if w.Enabled != nil {
			c.Watchdog.Enabled = w.Enabled
		}
		setString(&c.Watchdog.Interval, w.Interval)
		setUint(&c.Watchdog.Window, w.Window)
		setString(&c.Watchdog.CallTimeout, w.CallTimeout)
		setString(&c.Watchdog.Signer, w.Signer)
	}
	if a := f.Answers; a != nil {
		setString(&c.Answers.Path, a.Path)
	}
	if a := f.Auth; a != nil {
		setString(&c.Auth.URL, a.URL)
		setString(&c.Auth.AdminSecret, a.AdminSecret)
		setString(&c.Auth.Timeout, a.Timeout)
		c.Auth.Insecure = a.Insecure
	}
	c.Identities = append(c.Identities, f.Identities...)
}

func (c *Config) applyEnv() error {
	var o overrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.Addr != "" {
		host, port, err := splitAddr(o.Addr)
		if err != nil {
			return fmt.Errorf("WORDCHAIN_ADDR: %w", err)
		}
		c.Server.Address, c.Server.Port = host, port
	}
	setString(&c.Game.Admin, o.Admin)
	setString(&c.Server.LogLevel, o.LogLevel)
	setString(&c.Server.Snapshot, o.Snapshot)
	setString(&c.Answers.Path, o.AnswersPath)
	setString(&c.Watchdog.Signer, o.Signer)
	if o.AdminToken != "" {
		c.SetToken(c.Game.Admin, o.AdminToken)
	}
	return nil
}

// SetToken binds token to principal, replacing any existing binding.
func (c *Config) SetToken(principal, token string) {
	for i := range c.Identities {
		if c.Identities[i].Principal == principal {
			c.Identities[i].Token = token
			return
		}
	}
	c.Identities = append(c.Identities, Identity{Principal: principal, Token: token})
}

// Tokens returns the principal → token table.
func (c *Config) Tokens() map[string]string {
	out := make(map[string]string, len(c.Identities))
	for _, id := range c.Identities {
		out[id.Principal] = id.Token
	}
	return out
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if _, err := log.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.Server.LogLevel)
	}
	if strings.TrimSpace(c.Game.Admin) == "" {
		return fmt.Errorf("game: admin principal is required")
	}
	if c.Game.EntryFee == 0 {
		return fmt.Errorf("game: entry fee must be positive")
	}
	if c.Game.TreasuryFeePercent == nil || *c.Game.TreasuryFeePercent > 100 {
		return fmt.Errorf("game: treasury fee percent must be between 0 and 100")
	}
	if c.Game.RoundDuration == 0 {
		return fmt.Errorf("game: round duration must be positive")
	}
	if c.Watchdog.Window == 0 {
		return fmt.Errorf("watchdog: window must be positive")
	}
	durations := map[string]string{
		"server.snapshot_interval": c.Server.SnapshotInterval,
		"chain.block_interval":     c.Chain.BlockInterval,
		"watchdog.interval":        c.Watchdog.Interval,
		"watchdog.call_timeout":    c.Watchdog.CallTimeout,
		"auth.timeout":             c.Auth.Timeout,
	}
	for name, value := range durations {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, value)
		}
	}
	seen := map[string]string{}
	for _, id := range c.Identities {
		if id.Token == "" {
			return fmt.Errorf("identity %s: token is required", id.Principal)
		}
		if other, dup := seen[id.Token]; dup {
			return fmt.Errorf("identity %s: token already used by %s", id.Principal, other)
		}
		seen[id.Token] = id.Principal
	}
	return nil
}

// GetServerAddress returns the listen address.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// GameConfig returns the ledger configuration row for a fresh ledger.
func (c *Config) GameConfig() ledger.GameConfig {
	gc := ledger.DefaultGameConfig(c.Game.Admin)
	gc.EntryFee = c.Game.EntryFee
	if c.Game.TreasuryFeePercent != nil {
		gc.TreasuryFeePercent = *c.Game.TreasuryFeePercent
	}
	gc.RoundDuration = c.Game.RoundDuration
	return gc
}

// WatchdogEnabled reports whether automatic reveals run in-process.
func (c *Config) WatchdogEnabled() bool {
	return c.Watchdog.Enabled == nil || *c.Watchdog.Enabled
}

// Duration parses a duration value that Validate has already accepted.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setUint(dst *uint64, v uint64) {
	if v != 0 {
		*dst = v
	}
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}
