// Package config loads the simulator configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trading-sim-lab/internal/backtest"
	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/fill"
	"trading-sim-lab/internal/portfolio"
	"trading-sim-lab/internal/risk"
	"trading-sim-lab/internal/simulation"
	"trading-sim-lab/internal/strategy"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level simulator configuration. Monetary values are
// decimal strings so they reach the engine without float rounding.
type Config struct {
	Storage   Storage    `yaml:"storage"`
	Server    Server     `yaml:"server"`
	Logging   Logging    `yaml:"logging"`
	Account   Account    `yaml:"account"`
	Fill      Fill       `yaml:"fill"`
	Risk      []RiskRule `yaml:"risk"`
	Run       Run        `yaml:"run"`
	Instances []Instance `yaml:"instances"`
}

// Storage selects where bars are read from and where results are written.
type Storage struct {
	Bars          string `yaml:"bars"`    // memory | clickhouse | parquet
	Results       string `yaml:"results"` // memory | postgres
	EquityCurve   string `yaml:"equity_curve"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	ParquetDir    string `yaml:"parquet_dir"`
}

// Storage backends
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendParquet    = "parquet"
)

// Server holds the HTTP listener configuration.
type Server struct {
	Addr string `yaml:"addr"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Account configures the simulated account.
type Account struct {
	InitialCash string `yaml:"initial_cash"`
	Leverage    string `yaml:"leverage"`
}

// Fill configures the fill model.
type Fill struct {
	Mode              string   `yaml:"mode"` // next_open | same_bar
	Slippage          Slippage `yaml:"slippage"`
	Fees              Fees     `yaml:"fees"`
	ParticipationRate string   `yaml:"participation_rate"`
	MinNotional       string   `yaml:"min_notional"`
}

// Slippage configures the adverse price offset.
type Slippage struct {
	Kind  string `yaml:"kind"` // none | percent | absolute
	Value string `yaml:"value"`
}

// Fees holds default maker/taker rates and per-symbol overrides.
type Fees struct {
	Maker     string             `yaml:"maker"`
	Taker     string             `yaml:"taker"`
	PerSymbol map[string]FeeRate `yaml:"per_symbol"`
}

// FeeRate is a maker/taker pair.
type FeeRate struct {
	Maker string `yaml:"maker"`
	Taker string `yaml:"taker"`
}

// RiskRule configures one risk check.
type RiskRule struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Threshold string `yaml:"threshold"`
	Critical  bool   `yaml:"critical"`
	WindowMs  int64  `yaml:"window_ms"`
	Lookback  int    `yaml:"lookback"`
}

// Run holds the replay range and pipeline switches.
type Run struct {
	FromMs      int64  `yaml:"from_ms"`
	ToMs        int64  `yaml:"to_ms"`
	ReportDir   string `yaml:"report_dir"`
	Concurrency int    `yaml:"concurrency"`
	Verify      bool   `yaml:"verify"`
}

// Instance configures one strategy instance.
type Instance struct {
	Name           string     `yaml:"name"`
	Strategy       string     `yaml:"strategy"` // SMA_CROSS | BUY_AND_HOLD
	Symbols        []string   `yaml:"symbols"`
	Quantity       string     `yaml:"quantity"`
	FastPeriod     *int       `yaml:"fast_period"`
	SlowPeriod     *int       `yaml:"slow_period"`
	AllowShort     bool       `yaml:"allow_short"`
	LimitOffsetPct string     `yaml:"limit_offset_pct"`
	TimeInForce    string     `yaml:"time_in_force"`
	Lookback       int        `yaml:"lookback"`
	Risk           []RiskRule `yaml:"risk"` // replaces the global rules when set
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a configuration with every default applied and no instances.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Storage.Bars, BackendMemory)
	setDefault(&cfg.Storage.Results, BackendMemory)
	setDefault(&cfg.Storage.EquityCurve, cfg.Storage.Results)
	setDefault(&cfg.Server.Addr, ":8080")
	setDefault(&cfg.Logging.Level, "info")
	setDefault(&cfg.Logging.Format, "json")
	setDefault(&cfg.Account.InitialCash, "10000")
	setDefault(&cfg.Account.Leverage, "1")
	setDefault(&cfg.Fill.Mode, string(fill.ModeNextOpen))
	setDefault(&cfg.Fill.Slippage.Kind, string(fill.SlippagePercent))
	setDefault(&cfg.Fill.Slippage.Value, "0.0005")
	setDefault(&cfg.Fill.Fees.Maker, "0.001")
	setDefault(&cfg.Fill.Fees.Taker, "0.001")
	if cfg.Run.ToMs == 0 {
		cfg.Run.ToMs = 1<<63 - 1
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIMLAB_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("SIMLAB_CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickHouseDSN = v
	}
	if v := os.Getenv("SIMLAB_PARQUET_DIR"); v != "" {
		cfg.Storage.ParquetDir = v
	}
	if v := os.Getenv("SIMLAB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SIMLAB_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// ---------------------------------------------------------------------------
// Validation and conversion
// ---------------------------------------------------------------------------

// Validate checks storage selection and that every instance builds.
// Returns *domain.ConfigurationError.
func (c *Config) Validate() error {
	switch c.Storage.Bars {
	case BackendMemory:
	case BackendClickHouse:
		if c.Storage.ClickHouseDSN == "" {
			return domain.NewConfigurationError("storage.clickhouse_dsn", "required for clickhouse bars")
		}
	case BackendParquet:
		if c.Storage.ParquetDir == "" {
			return domain.NewConfigurationError("storage.parquet_dir", "required for parquet bars")
		}
	default:
		return domain.NewConfigurationError("storage.bars", fmt.Sprintf("unknown backend %q", c.Storage.Bars))
	}
	for field, backend := range map[string]string{"storage.results": c.Storage.Results, "storage.equity_curve": c.Storage.EquityCurve} {
		switch backend {
		case BackendMemory:
		case BackendPostgres:
			if c.Storage.PostgresDSN == "" {
				return domain.NewConfigurationError("storage.postgres_dsn", "required for postgres results")
			}
		case BackendClickHouse:
			if field != "storage.equity_curve" {
				return domain.NewConfigurationError(field, "clickhouse only stores the equity curve")
			}
			if c.Storage.ClickHouseDSN == "" {
				return domain.NewConfigurationError("storage.clickhouse_dsn", "required for clickhouse equity curve")
			}
		default:
			return domain.NewConfigurationError(field, fmt.Sprintf("unknown backend %q", backend))
		}
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return domain.NewConfigurationError("logging.format", "must be json or console")
	}
	if c.Run.FromMs > c.Run.ToMs {
		return domain.NewConfigurationError("run", "from_ms after to_ms")
	}
	if c.Run.Concurrency < 0 {
		return domain.NewConfigurationError("run.concurrency", "must be >= 0")
	}

	_, err := c.SimulationInstances()
	return err
}

// FillConfig converts the fill section.
func (c *Config) FillConfig() (fill.Config, error) {
	fc := fill.DefaultConfig()
	fc.Mode = fill.Mode(c.Fill.Mode)
	fc.Slippage.Kind = fill.SlippageKind(c.Fill.Slippage.Kind)

	var err error
	if fc.Slippage.Value, err = parseDecimal("fill.slippage.value", c.Fill.Slippage.Value); err != nil {
		return fill.Config{}, err
	}
	if fc.ParticipationRate, err = parseDecimal("fill.participation_rate", c.Fill.ParticipationRate); err != nil {
		return fill.Config{}, err
	}
	if fc.MinNotional, err = parseDecimal("fill.min_notional", c.Fill.MinNotional); err != nil {
		return fill.Config{}, err
	}
	if fc.Fees.Default, err = parseFeeRate("fill.fees", FeeRate{Maker: c.Fill.Fees.Maker, Taker: c.Fill.Fees.Taker}); err != nil {
		return fill.Config{}, err
	}
	if len(c.Fill.Fees.PerSymbol) > 0 {
		fc.Fees.PerSymbol = make(map[string]fill.FeeRate, len(c.Fill.Fees.PerSymbol))
		for sym, rate := range c.Fill.Fees.PerSymbol {
			// Unset sides inherit the default rate
			setDefault(&rate.Maker, c.Fill.Fees.Maker)
			setDefault(&rate.Taker, c.Fill.Fees.Taker)
			r, err := parseFeeRate("fill.fees.per_symbol."+sym, rate)
			if err != nil {
				return fill.Config{}, err
			}
			fc.Fees.PerSymbol[sym] = r
		}
	}

	if err := fc.Validate(); err != nil {
		return fill.Config{}, err
	}
	return fc, nil
}

// AccountConfig converts the account section.
func (c *Config) AccountConfig() (portfolio.Config, error) {
	cash, err := parseDecimal("account.initial_cash", c.Account.InitialCash)
	if err != nil {
		return portfolio.Config{}, err
	}
	lev, err := parseDecimal("account.leverage", c.Account.Leverage)
	if err != nil {
		return portfolio.Config{}, err
	}
	ac := portfolio.Config{InitialCash: cash, Leverage: lev}
	if err := ac.Validate(); err != nil {
		return portfolio.Config{}, err
	}
	return ac, nil
}

// RiskRules converts rule entries.
func RiskRules(entries []RiskRule) ([]risk.Rule, error) {
	rules := make([]risk.Rule, 0, len(entries))
	for i, e := range entries {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", e.Kind, i)
		}
		threshold, err := parseDecimal("risk."+name+".threshold", e.Threshold)
		if err != nil {
			return nil, err
		}
		rule := risk.Rule{
			Name:      name,
			Kind:      risk.Kind(e.Kind),
			Threshold: threshold,
			Critical:  e.Critical,
			WindowMs:  e.WindowMs,
			Lookback:  e.Lookback,
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// BacktestConfig builds the engine configuration of one instance.
func (c *Config) BacktestConfig(inst Instance) (backtest.Config, error) {
	fc, err := c.FillConfig()
	if err != nil {
		return backtest.Config{}, err
	}
	ac, err := c.AccountConfig()
	if err != nil {
		return backtest.Config{}, err
	}
	entries := c.Risk
	if len(inst.Risk) > 0 {
		entries = inst.Risk
	}
	rules, err := RiskRules(entries)
	if err != nil {
		return backtest.Config{}, err
	}

	bc := backtest.Config{
		Symbols:  append([]string(nil), inst.Symbols...),
		Lookback: inst.Lookback,
		Fill:     fc,
		Account:  ac,
		Risk:     rules,
	}
	if err := bc.Validate(); err != nil {
		return backtest.Config{}, err
	}
	return bc, nil
}

// StrategyConfig converts the strategy parameters of one instance.
func (inst Instance) StrategyConfig() (domain.StrategyConfig, error) {
	field := "instances." + inst.Name
	qty, err := parseDecimal(field+".quantity", inst.Quantity)
	if err != nil {
		return domain.StrategyConfig{}, err
	}
	sc := domain.StrategyConfig{
		StrategyType: inst.Strategy,
		Quantity:     qty,
		FastPeriod:   inst.FastPeriod,
		SlowPeriod:   inst.SlowPeriod,
		AllowShort:   inst.AllowShort,
		TimeInForce:  domain.TimeInForce(inst.TimeInForce),
	}
	if inst.LimitOffsetPct != "" {
		off, err := parseDecimal(field+".limit_offset_pct", inst.LimitOffsetPct)
		if err != nil {
			return domain.StrategyConfig{}, err
		}
		sc.LimitOffsetPct = &off
	}
	return sc, nil
}

// SimulationInstances builds every configured instance with its strategy.
// Instance names must be unique; an empty name defaults to the strategy name.
func (c *Config) SimulationInstances() ([]simulation.Instance, error) {
	out := make([]simulation.Instance, 0, len(c.Instances))
	seen := make(map[string]struct{}, len(c.Instances))
	for _, inst := range c.Instances {
		sc, err := inst.StrategyConfig()
		if err != nil {
			return nil, err
		}
		strat, err := strategy.FromConfig(sc)
		if err != nil {
			return nil, domain.NewConfigurationError("instances."+inst.Name+".strategy", err.Error())
		}
		name := inst.Name
		if name == "" {
			name = strat.Name()
		}
		if _, dup := seen[name]; dup {
			return nil, domain.NewConfigurationError("instances", fmt.Sprintf("duplicate instance name %q", name))
		}
		seen[name] = struct{}{}

		bc, err := c.BacktestConfig(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, simulation.Instance{Name: name, Config: bc, Strategy: strat})
	}
	return out, nil
}

// Symbols returns every symbol named by any instance, sorted.
func (c *Config) Symbols() []string {
	set := make(map[string]struct{})
	for _, inst := range c.Instances {
		for _, s := range inst.Symbols {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.NewConfigurationError(field, fmt.Sprintf("invalid decimal %q", s))
	}
	return v, nil
}

func parseFeeRate(field string, r FeeRate) (fill.FeeRate, error) {
	maker, err := parseDecimal(field+".maker", r.Maker)
	if err != nil {
		return fill.FeeRate{}, err
	}
	taker, err := parseDecimal(field+".taker", r.Taker)
	if err != nil {
		return fill.FeeRate{}, err
	}
	return fill.FeeRate{Maker: maker, Taker: taker}, nil
}
