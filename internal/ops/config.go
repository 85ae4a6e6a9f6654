package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"riskguard/internal/ingest"
	"riskguard/internal/obs"
	"riskguard/internal/risk"
	"riskguard/internal/schema"
	"riskguard/internal/session"
	"riskguard/pkg/exception"
)

// Environment overrides, applied after the .env file is read.
const (
	EnvStoreDSN    = "RISKGUARD_STORE_DSN"
	EnvIngestURL   = "RISKGUARD_INGEST_URL"
	EnvMetricsAddr = "RISKGUARD_METRICS_ADDR"
)

const (
	defaultExportInterval = 10 * time.Second
	defaultAppName        = "riskguard"
)

// FileConfig mirrors the config file layout (JSON or YAML).
type FileConfig struct {
	Risk          *RiskConfig         `json:"risk" yaml:"risk"`
	Feed          FeedConfig          `json:"feed" yaml:"feed"`
	Ledger        LedgerConfig        `json:"ledger" yaml:"ledger"`
	Session       SessionConfig       `json:"session" yaml:"session"`
	Export        ExportConfig        `json:"export" yaml:"export"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// RiskConfig holds the limits as decimal strings.
type RiskConfig struct {
	MaxPositionSize     string `json:"maxPositionSize" yaml:"maxPositionSize"`
	MaxPositionQty      string `json:"maxPositionQty" yaml:"maxPositionQty"`
	MaxDailyLoss        string `json:"maxDailyLoss" yaml:"maxDailyLoss"`
	MaxOpenPositions    int    `json:"maxOpenPositions" yaml:"maxOpenPositions"`
}

// FeedConfig describes the tick queue.
type FeedConfig struct {
	QueueCapacity  int    `json:"queueCapacity" yaml:"queueCapacity"`
	PublishTimeout string `json:"publishTimeout" yaml:"publishTimeout"`
}

// LedgerConfig describes ledger access.
type LedgerConfig struct {
	LockTimeout string `json:"lockTimeout" yaml:"lockTimeout"`
}

// SessionConfig describes the daily reset.
type SessionConfig struct {
	ResetTime     string `json:"resetTime" yaml:"resetTime"`
	Timezone      string `json:"timezone" yaml:"timezone"`
	CheckInterval string `json:"checkInterval" yaml:"checkInterval"`
}

// ExportConfig describes snapshot export.
type ExportConfig struct {
	SnapshotPath string `json:"snapshotPath" yaml:"snapshotPath"`
	Interval     string `json:"interval" yaml:"interval"`
	StoreDSN     string `json:"storeDSN" yaml:"storeDSN"`
	Retain       int    `json:"retain" yaml:"retain"`
}

// IngestConfig describes the websocket tick source.
type IngestConfig struct {
	URL     string   `json:"url" yaml:"url"`
	Stream  string   `json:"stream" yaml:"stream"`
	Symbols []string `json:"symbols" yaml:"symbols"`
}

// ObservabilityConfig describes metrics and profiling endpoints.
type ObservabilityConfig struct {
	MetricsAddr   string `json:"metricsAddr" yaml:"metricsAddr"`
	PyroscopeAddr string `json:"pyroscopeAddr" yaml:"pyroscopeAddr"`
	AppName       string `json:"appName" yaml:"appName"`
	// Instance tags decision IDs, 0 to obs.MaxInstance.
	Instance int `json:"instance" yaml:"instance"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Risk                 risk.Config
	LedgerLockTimeout    time.Duration
	SessionCheckInterval time.Duration
	Export               ExportSpec
	Ingest               IngestSpec
	Observability        ObservabilityConfig
}

// ExportSpec is the resolved export section.
type ExportSpec struct {
	SnapshotPath string
	Interval     time.Duration
	StoreDSN     string
	Retain       int
}

// Enabled reports whether any export sink is configured.
func (e ExportSpec) Enabled() bool {
	return e.SnapshotPath != "" || e.StoreDSN != ""
}

// IngestSpec is the resolved ingest section.
type IngestSpec struct {
	URL     string
	Stream  ingest.Stream
	Symbols []schema.Symbol
}

// Enabled reports whether a tick source is configured.
func (i IngestSpec) Enabled() bool {
	return len(i.Symbols) > 0
}

// Load reads a JSON or YAML config file, applies environment overrides from
// the process and envFiles, and validates the result. Every failure wraps
// exception.ErrConfig.
func Load(path string, envFiles ...string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("%w: read %s: %v", exception.ErrConfig, path, err)
	}
	cfg, err := decode(path, data)
	if err != nil {
		return Loaded{}, err
	}
	env, err := readEnv(envFiles)
	if err != nil {
		return Loaded{}, err
	}
	cfg.applyEnv(env)
	return resolve(cfg)
}

func decode(path string, data []byte) (FileConfig, error) {
	var cfg FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return FileConfig{}, fmt.Errorf("%w: decode %s: %v", exception.ErrConfig, path, err)
		}
	case ".json":
		if err := sonic.ConfigStd.Unmarshal(data, &cfg); err != nil {
			return FileConfig{}, fmt.Errorf("%w: decode %s: %v", exception.ErrConfig, path, err)
		}
	default:
		return FileConfig{}, fmt.Errorf("%w: unsupported config extension %q", exception.ErrConfig, ext)
	}
	return cfg, nil
}

// readEnv merges the env files with the process environment, the process
// taking precedence. Missing files are ignored.
func readEnv(files []string) (func(string) string, error) {
	fileEnv := map[string]string{}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		values, err := godotenv.Read(file)
		if err != nil {
			return nil, fmt.Errorf("%w: read env file %s: %v", exception.ErrConfig, file, err)
		}
		for k, v := range values {
			fileEnv[k] = v
		}
	}
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileEnv[key]
	}, nil
}

func (cfg *FileConfig) applyEnv(getenv func(string) string) {
	if v := getenv(EnvStoreDSN); v != "" {
		cfg.Export.StoreDSN = v
	}
	if v := getenv(EnvIngestURL); v != "" {
		cfg.Ingest.URL = v
	}
	if v := getenv(EnvMetricsAddr); v != "" {
		cfg.Observability.MetricsAddr = v
	}
}

func resolve(cfg FileConfig) (Loaded, error) {
	if cfg.Risk == nil {
		return Loaded{}, fmt.Errorf("%w: missing risk section", exception.ErrConfig)
	}
	riskCfg, err := resolveRisk(*cfg.Risk)
	if err != nil {
		return Loaded{}, err
	}

	riskCfg.FeedQueueCapacity = cfg.Feed.QueueCapacity
	if riskCfg.FeedPublishTimeout, err = parseDuration("feed.publishTimeout", cfg.Feed.PublishTimeout); err != nil {
		return Loaded{}, err
	}

	if cfg.Session.ResetTime == "" {
		return Loaded{}, fmt.Errorf("%w: missing session.resetTime", exception.ErrConfig)
	}
	if riskCfg.SessionReset, err = session.ParseBoundary(cfg.Session.ResetTime, cfg.Session.Timezone); err != nil {
		return Loaded{}, err
	}
	if err := riskCfg.Validate(); err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Risk: riskCfg, Observability: cfg.Observability}
	if loaded.LedgerLockTimeout, err = parseDuration("ledger.lockTimeout", cfg.Ledger.LockTimeout); err != nil {
		return Loaded{}, err
	}
	if loaded.SessionCheckInterval, err = parseDuration("session.checkInterval", cfg.Session.CheckInterval); err != nil {
		return Loaded{}, err
	}
	if loaded.Export, err = resolveExport(cfg.Export); err != nil {
		return Loaded{}, err
	}
	if loaded.Ingest, err = resolveIngest(cfg.Ingest); err != nil {
		return Loaded{}, err
	}
	if inst := loaded.Observability.Instance; inst < 0 || inst > obs.MaxInstance {
		return Loaded{}, fmt.Errorf("%w: observability.instance must be within 0..%d, got %d", exception.ErrConfig, obs.MaxInstance, inst)
	}
	if loaded.Observability.AppName == "" {
		loaded.Observability.AppName = defaultAppName
	}
	return loaded, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, error) {
	var out risk.Config
	var err error
	if out.MaxPositionSize, err = parseDecimal("risk.maxPositionSize", cfg.MaxPositionSize, true); err != nil {
		return risk.Config{}, err
	}
	if out.MaxPositionQty, err = parseDecimal("risk.maxPositionQty", cfg.MaxPositionQty, false); err != nil {
		return risk.Config{}, err
	}
	if out.MaxDailyLoss, err = parseDecimal("risk.maxDailyLoss", cfg.MaxDailyLoss, true); err != nil {
		return risk.Config{}, err
	}
	out.MaxOpenPositions = cfg.MaxOpenPositions
	return out, nil
}

func resolveExport(cfg ExportConfig) (ExportSpec, error) {
	interval, err := parseDuration("export.interval", cfg.Interval)
	if err != nil {
		return ExportSpec{}, err
	}
	if interval == 0 {
		interval = defaultExportInterval
	}
	if cfg.Retain < 0 {
		return ExportSpec{}, fmt.Errorf("%w: export.retain must not be negative", exception.ErrConfig)
	}
	return ExportSpec{
		SnapshotPath: cfg.SnapshotPath,
		Interval:     interval,
		StoreDSN:     cfg.StoreDSN,
		Retain:       cfg.Retain,
	}, nil
}

func resolveIngest(cfg IngestConfig) (IngestSpec, error) {
	stream, err := ingest.ParseStream(cfg.Stream)
	if err != nil {
		return IngestSpec{}, err
	}
	spec := IngestSpec{URL: cfg.URL, Stream: stream}
	for _, s := range cfg.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			spec.Symbols = append(spec.Symbols, schema.Symbol(strings.ToUpper(s)))
		}
	}
	return spec, nil
}

func parseDecimal(field, value string, required bool) (decimal.Decimal, error) {
	if value == "" {
		if required {
			return decimal.Zero, fmt.Errorf("%w: missing %s", exception.ErrConfig, field)
		}
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q: %v", exception.ErrConfig, field, value, err)
	}
	return v, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", exception.ErrConfig, field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", exception.ErrConfig, field)
	}
	return d, nil
}
