// Package config defines the single immutable configuration for the signal
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDATOR_* environment variables.
type Config struct {
	Asset      AssetConfig      `toml:"asset"`
	Classifier ClassifierConfig `toml:"classifier"`
	Liquidity  LiquidityConfig  `toml:"liquidity"`
	Whale      WhaleConfig      `toml:"whale"`
	Spoof      SpoofConfig      `toml:"spoof"`
	Wash       WashConfig       `toml:"wash"`
	Decision   DecisionConfig   `toml:"decision"`
	Engine     EngineConfig     `toml:"engine"`
	Chain      ChainConfig      `toml:"chain"`
	OrderBook  OrderBookConfig  `toml:"orderbook"`
	Redis      RedisConfig      `toml:"redis"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// AssetConfig identifies the traded token.
type AssetConfig struct {
	Symbol        string  `toml:"symbol"`
	TokenAddress  string  `toml:"token_address"`
	TokenDecimals int     `toml:"token_decimals"`
	PriceUSD      float64 `toml:"price_usd"`
	// LivePrice values whale transfers at the order-book mid.
	LivePrice bool `toml:"live_price"`
}

// ClassifierConfig holds the microstructure thresholds.
type ClassifierConfig struct {
	Depth              int     `toml:"depth"`
	HistorySize        int     `toml:"history_size"`
	PressureThreshold  float64 `toml:"pressure_threshold"`
	LiquidityThreshold float64 `toml:"liquidity_threshold"`
	MomentumThreshold  float64 `toml:"momentum_threshold"`
	NeutralBand        float64 `toml:"neutral_band"`
}

// LiquidityConfig holds the liquidity scorer parameters.
type LiquidityConfig struct {
	Depth           int     `toml:"depth"`
	HistorySize     int     `toml:"history_size"`
	MinSamples      int     `toml:"min_samples"`
	ValidPercentile float64 `toml:"valid_percentile"`
	DepthTarget     float64 `toml:"depth_target"`
	DensityBand     float64 `toml:"density_band"`
	VolumeTarget    float64 `toml:"volume_target"`
	VWAPTolerance   float64 `toml:"vwap_tolerance"`
	MaxSpreadBps    float64 `toml:"max_spread_bps"`
	ImpactNotional  float64 `toml:"impact_notional"`
	MaxImpactBps    float64 `toml:"max_impact_bps"`
}

// WhaleConfig holds the whale detector and gating state machine parameters.
type WhaleConfig struct {
	Addresses             []string          `toml:"addresses"`
	Exchanges             map[string]string `toml:"exchanges"` // deposit address -> exchange name
	DexRouters            []string          `toml:"dex_routers"`
	HuntTrigger           float64           `toml:"hunt_trigger"`
	HuntDuration          duration          `toml:"hunt_duration"`
	DumpValidity          duration          `toml:"dump_validity"`
	HistorySize           int               `toml:"history_size"`
	ExtendHuntOnRetrigger bool              `toml:"extend_hunt_on_retrigger"`
	LargeTransferUSD      float64           `toml:"large_transfer_usd"`
	NativePriceUSD        float64           `toml:"native_price_usd"`
	DedupTTL              duration          `toml:"dedup_ttl"`
	DedupCapacity         int               `toml:"dedup_capacity"`
	StaleAfter            duration          `toml:"stale_after"`
}

// SpoofConfig holds the spoof-wall detector parameters.
type SpoofConfig struct {
	WallSize        float64  `toml:"wall_size"`
	MinDwell        duration `toml:"min_dwell"`
	DetectionWindow duration `toml:"detection_window"`
	ActiveCount     int      `toml:"active_count"`
	RollingWindow   duration `toml:"rolling_window"`
	StaleAfter      duration `toml:"stale_after"`
}

// WashConfig holds the wash-trade detector parameters.
type WashConfig struct {
	Window         duration `toml:"window"`
	RapidThreshold duration `toml:"rapid_threshold"`
	FlatEpsilon    float64  `toml:"flat_epsilon"`
	RoundQtyUnit   float64  `toml:"round_qty_unit"`
	RoundValueUnit float64  `toml:"round_value_unit"`
	TopShare       float64  `toml:"top_share"`
	Threshold      float64  `toml:"threshold"`
	MinTrades      int      `toml:"min_trades"`
	RecomputeEvery duration `toml:"recompute_every"`
	MaxTrades      int      `toml:"max_trades"`
}

// DecisionConfig holds the quality bands and sizing factors.
type DecisionConfig struct {
	RejectBelow  float64 `toml:"reject_below"`
	LowBelow     float64 `toml:"low_below"`
	MediumBelow  float64 `toml:"medium_below"`
	FactorHigh   float64 `toml:"factor_high"`
	FactorMedium float64 `toml:"factor_medium"`
	FactorLow    float64 `toml:"factor_low"`
}

// EngineConfig sizes the engine's queues and cadences.
type EngineConfig struct {
	OutboxSize   int      `toml:"outbox_size"`
	WhaleBuffer  int      `toml:"whale_buffer"`
	RecentLimit  int      `toml:"recent_limit"`
	ExpireEvery  duration `toml:"expire_every"`
	PublishEvery duration `toml:"publish_every"`
	VolumeWindow duration `toml:"volume_window"` // trade-tape window for the volume profile
}

// BackoffConfig is the reconnect policy of one supervised feed.
type BackoffConfig struct {
	BaseDelay    duration `toml:"base_delay"`
	MaxDelay     duration `toml:"max_delay"`
	MaxRetries   int      `toml:"max_retries"`
	BreakerReset duration `toml:"breaker_reset"`
}

// ProviderConfig is one endpoint of a feed, tried in list order.
type ProviderConfig struct {
	Name      string `toml:"name"`
	URL       string `toml:"url"`
	Subscribe string `toml:"subscribe"` // first frame sent after dialing, order-book feeds only
}

// ChainConfig lists the RPC providers streaming whale evidence.
type ChainConfig struct {
	Providers []ProviderConfig `toml:"providers"`
	Pending   bool             `toml:"pending"`
	Backoff   BackoffConfig    `toml:"backoff"`
}

// OrderBookConfig lists the market-data providers.
type OrderBookConfig struct {
	Providers []ProviderConfig `toml:"providers"`
	// FromBus consumes snapshots a gateway publishes on the signal bus,
	// after the websocket providers.
	FromBus    bool          `toml:"from_bus"`
	StaleAfter duration      `toml:"stale_after"`
	Backoff    BackoffConfig `toml:"backoff"`
}

// RedisConfig holds Redis connection parameters. When disabled the engine
// runs on the in-process bus.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	StreamMaxLen int      `toml:"stream_max_len"`
	SnapshotTTL  duration `toml:"snapshot_ttl"`
	// Lease makes the engine hold an exclusive lease so a second instance
	// for the same asset refuses to start.
	Lease    bool     `toml:"lease"`
	LeaseTTL duration `toml:"lease_ttl"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters for the
// decision journal.
type SupabaseConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
	PollInterval   duration `toml:"poll_interval"`
}

// S3Config holds S3-compatible object storage parameters for the JSONL
// export.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	ExportInterval duration `toml:"export_interval"`
	MaxBuffered    int      `toml:"max_buffered"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	ProtectReads bool     `toml:"protect_reads"`
	RateLimit    float64  `toml:"rate_limit"`
	RateBurst    int      `toml:"rate_burst"`
	WebSocket    bool     `toml:"websocket"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramBaseURL   string   `toml:"telegram_base_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	PerMinute         int      `toml:"per_minute"`
	Burst             int      `toml:"burst"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	backoff := BackoffConfig{
		BaseDelay:    duration{time.Second},
		MaxDelay:     duration{30 * time.Second},
		MaxRetries:   5,
		BreakerReset: duration{2 * time.Minute},
	}
	return Config{
		Asset: AssetConfig{
			Symbol:        "PEPE",
			TokenDecimals: 18,
		},
		Classifier: ClassifierConfig{
			Depth:              50,
			HistorySize:        300,
			PressureThreshold:  3.0,
			LiquidityThreshold: 100_000,
			MomentumThreshold:  -0.3,
			NeutralBand:        0.1,
		},
		Liquidity: LiquidityConfig{
			Depth:           50,
			HistorySize:     1440,
			MinSamples:      10,
			ValidPercentile: 75,
			DepthTarget:     2_000_000,
			DensityBand:     0.01,
			VolumeTarget:    50_000_000,
			VWAPTolerance:   0.02,
			MaxSpreadBps:    50,
			ImpactNotional:  10_000,
			MaxImpactBps:    100,
		},
		Whale: WhaleConfig{
			Exchanges:        map[string]string{},
			HuntTrigger:      3_000_000,
			HuntDuration:     duration{12 * time.Hour},
			DumpValidity:     duration{6 * time.Hour},
			HistorySize:      100,
			LargeTransferUSD: 1_000_000,
			DedupTTL:         duration{time.Hour},
			DedupCapacity:    50_000,
			StaleAfter:       duration{10 * time.Minute},
		},
		Spoof: SpoofConfig{
			WallSize:        300_000,
			MinDwell:        duration{5 * time.Second},
			DetectionWindow: duration{10 * time.Second},
			ActiveCount:     3,
			RollingWindow:   duration{5 * time.Minute},
			StaleAfter:      duration{60 * time.Second},
		},
		Wash: WashConfig{
			Window:         duration{5 * time.Minute},
			RapidThreshold: duration{100 * time.Millisecond},
			FlatEpsilon:    1e-5,
			RoundQtyUnit:   100,
			RoundValueUnit: 1_000,
			TopShare:       0.2,
			Threshold:      75,
			MinTrades:      10,
			RecomputeEvery: duration{30 * time.Second},
			MaxTrades:      20_000,
		},
		Decision: DecisionConfig{
			RejectBelow:  10_000,
			LowBelow:     25_000,
			MediumBelow:  50_000,
			FactorHigh:   1.0,
			FactorMedium: 0.66,
			FactorLow:    0.33,
		},
		Engine: EngineConfig{
			OutboxSize:   4096,
			WhaleBuffer:  1024,
			RecentLimit:  500,
			ExpireEvery:  duration{time.Second},
			PublishEvery: duration{5 * time.Second},
			VolumeWindow: duration{24 * time.Hour},
		},
		Chain: ChainConfig{
			Pending: true,
			Backoff: backoff,
		},
		OrderBook: OrderBookConfig{
			StaleAfter: duration{time.Minute},
			Backoff:    backoff,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "predator:",
			StreamMaxLen: 10_000,
			SnapshotTTL:  duration{10 * time.Minute},
			LeaseTTL:     duration{15 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "postgres",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
			PollInterval:   duration{time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predator-data",
			ForcePathStyle: true,
			Prefix:         "predator/",
			ExportInterval: duration{15 * time.Minute},
			MaxBuffered:    50_000,
		},
		Notify: NotifyConfig{
			Events:    []string{"state_transition", "whale_intent", "feed_failed", "feed_recovered"},
			PerMinute: 20,
			Burst:     5,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateBurst:   40,
			WebSocket:   true,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Modes.
const (
	ModeFull   = "full"   // engine, feeds, API and every sink in one process
	ModeEngine = "engine" // engine, feeds and API; sinks run elsewhere
	ModeSinks  = "sinks"  // journal, export and alerts consuming a shared Redis bus
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeFull:   true,
	ModeEngine: true,
	ModeSinks:  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsEngine reports whether the mode runs the signal engine.
func (c *Config) RunsEngine() bool {
	m := strings.ToLower(c.Mode)
	return m == ModeFull || m == ModeEngine
}

// RunsSinks reports whether the mode runs the journal, export and alerts.
func (c *Config) RunsSinks() bool {
	m := strings.ToLower(c.Mode)
	return m == ModeFull || m == ModeSinks
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: full, engine, sinks)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Asset
	if c.Asset.TokenAddress != "" && !common.IsHexAddress(c.Asset.TokenAddress) {
		add("asset: token_address %q is not a hex address", c.Asset.TokenAddress)
	}
	if c.Asset.TokenDecimals < 0 || c.Asset.TokenDecimals > 36 {
		add("asset: token_decimals must be 0-36, got %d", c.Asset.TokenDecimals)
	}
	if c.Asset.PriceUSD < 0 {
		add("asset: price_usd must be >= 0")
	}

	// Classifier
	if c.Classifier.Depth < 1 {
		add("classifier: depth must be >= 1")
	}
	if c.Classifier.HistorySize < 2 {
		add("classifier: history_size must be >= 2")
	}
	if c.Classifier.PressureThreshold <= 0 {
		add("classifier: pressure_threshold must be > 0")
	}
	if c.Classifier.LiquidityThreshold <= 0 {
		add("classifier: liquidity_threshold must be > 0")
	}
	if c.Classifier.MomentumThreshold >= 0 {
		add("classifier: momentum_threshold must be negative")
	}
	if c.Classifier.NeutralBand < 0 {
		add("classifier: neutral_band must be >= 0")
	}

	// Liquidity
	if c.Liquidity.HistorySize < 1 {
		add("liquidity: history_size must be >= 1")
	}
	if c.Liquidity.ValidPercentile < 0 || c.Liquidity.ValidPercentile > 100 {
		add("liquidity: valid_percentile must be 0-100")
	}
	for name, v := range map[string]float64{
		"depth_target":    c.Liquidity.DepthTarget,
		"volume_target":   c.Liquidity.VolumeTarget,
		"max_spread_bps":  c.Liquidity.MaxSpreadBps,
		"impact_notional": c.Liquidity.ImpactNotional,
		"max_impact_bps":  c.Liquidity.MaxImpactBps,
	} {
		if v <= 0 {
			add("liquidity: %s must be > 0", name)
		}
	}

	// Whale
	if c.RunsEngine() && len(c.Whale.Addresses) == 0 {
		add("whale: addresses must list at least one watched wallet")
	}
	for _, a := range c.Whale.Addresses {
		if !common.IsHexAddress(a) {
			add("whale: address %q is not a hex address", a)
		}
	}
	for a := range c.Whale.Exchanges {
		if !common.IsHexAddress(a) {
			add("whale: exchange deposit address %q is not a hex address", a)
		}
	}
	for _, a := range c.Whale.DexRouters {
		if !common.IsHexAddress(a) {
			add("whale: dex router %q is not a hex address", a)
		}
	}
	if c.Whale.HuntTrigger <= 0 {
		add("whale: hunt_trigger must be > 0")
	}
	if c.Whale.HuntDuration.Duration <= 0 {
		add("whale: hunt_duration must be > 0")
	}
	if c.Whale.DumpValidity.Duration <= 0 {
		add("whale: dump_validity must be > 0")
	}
	if c.Whale.HistorySize < 1 {
		add("whale: history_size must be >= 1")
	}

	// Spoof
	if c.Spoof.WallSize <= 0 {
		add("spoof: wall_size must be > 0")
	}
	if c.Spoof.DetectionWindow.Duration <= c.Spoof.MinDwell.Duration {
		add("spoof: detection_window must exceed min_dwell")
	}
	if c.Spoof.ActiveCount < 1 {
		add("spoof: active_count must be >= 1")
	}

	// Wash. A zero threshold is allowed: it disables trading on any window.
	if c.Wash.Threshold < 0 || c.Wash.Threshold > 100 {
		add("wash: threshold must be 0-100")
	}
	if c.Wash.Window.Duration <= 0 {
		add("wash: window must be > 0")
	}
	if c.Wash.TopShare <= 0 || c.Wash.TopShare > 1 {
		add("wash: top_share must be in (0, 1]")
	}

	// Decision
	if !(c.Decision.RejectBelow <= c.Decision.LowBelow && c.Decision.LowBelow <= c.Decision.MediumBelow) {
		add("decision: quality bands must satisfy reject_below <= low_below <= medium_below")
	}
	for name, f := range map[string]float64{
		"factor_high":   c.Decision.FactorHigh,
		"factor_medium": c.Decision.FactorMedium,
		"factor_low":    c.Decision.FactorLow,
	} {
		if f < 0 || f > 1 {
			add("decision: %s must be 0-1", name)
		}
	}

	// Feeds
	if c.RunsEngine() {
		if len(c.Chain.Providers) == 0 {
			add("chain: at least one provider is required")
		}
		if len(c.OrderBook.Providers) == 0 && !c.OrderBook.FromBus {
			add("orderbook: configure a provider or set from_bus")
		}
	}
	for i, p := range append(append([]ProviderConfig{}, c.Chain.Providers...), c.OrderBook.Providers...) {
		if !strings.HasPrefix(p.URL, "ws://") && !strings.HasPrefix(p.URL, "wss://") {
			add("provider %d (%s): url must be ws:// or wss://", i, p.Name)
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}
	if strings.ToLower(c.Mode) == ModeSinks && !c.Redis.Enabled {
		add("redis: mode sinks consumes the shared bus and needs redis.enabled")
	}
	if c.OrderBook.FromBus && !c.Redis.Enabled {
		add("orderbook: from_bus needs redis.enabled")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				add("supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				add("supabase: port must be 1-65535, got %d", c.Supabase.Port)
			}
			if c.Supabase.Database == "" {
				add("supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			add("supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			add("supabase: pool_min_conns must be 0-pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.ExportInterval.Duration <= 0 {
			add("s3: export_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
