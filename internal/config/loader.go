package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDATOR_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDATOR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Asset ──
	setStr(&cfg.Asset.Symbol, "PREDATOR_ASSET_SYMBOL")
	setStr(&cfg.Asset.TokenAddress, "PREDATOR_ASSET_TOKEN_ADDRESS")
	setFloat64(&cfg.Asset.PriceUSD, "PREDATOR_ASSET_PRICE_USD")
	setBool(&cfg.Asset.LivePrice, "PREDATOR_ASSET_LIVE_PRICE")

	// ── Thresholds ──
	setFloat64(&cfg.Classifier.PressureThreshold, "PREDATOR_CLASSIFIER_PRESSURE_THRESHOLD")
	setFloat64(&cfg.Classifier.LiquidityThreshold, "PREDATOR_CLASSIFIER_LIQUIDITY_THRESHOLD")
	setFloat64(&cfg.Classifier.MomentumThreshold, "PREDATOR_CLASSIFIER_MOMENTUM_THRESHOLD")
	setFloat64(&cfg.Liquidity.ValidPercentile, "PREDATOR_LIQUIDITY_VALID_PERCENTILE")
	setFloat64(&cfg.Whale.HuntTrigger, "PREDATOR_WHALE_HUNT_TRIGGER")
	setDuration(&cfg.Whale.HuntDuration, "PREDATOR_WHALE_HUNT_DURATION")
	setDuration(&cfg.Whale.DumpValidity, "PREDATOR_WHALE_DUMP_VALIDITY")
	setBool(&cfg.Whale.ExtendHuntOnRetrigger, "PREDATOR_WHALE_EXTEND_HUNT_ON_RETRIGGER")
	setStringSlice(&cfg.Whale.Addresses, "PREDATOR_WHALE_ADDRESSES")
	setFloat64(&cfg.Spoof.WallSize, "PREDATOR_SPOOF_WALL_SIZE")
	setInt(&cfg.Spoof.ActiveCount, "PREDATOR_SPOOF_ACTIVE_COUNT")
	setFloat64(&cfg.Wash.Threshold, "PREDATOR_WASH_THRESHOLD")

	// ── Feeds ── (RPC URLs usually carry an API key)
	setProviders(&cfg.Chain.Providers, "chain", "PREDATOR_CHAIN_URLS")
	setBool(&cfg.Chain.Pending, "PREDATOR_CHAIN_PENDING")
	setProviders(&cfg.OrderBook.Providers, "orderbook", "PREDATOR_ORDERBOOK_URLS")
	setBool(&cfg.OrderBook.FromBus, "PREDATOR_ORDERBOOK_FROM_BUS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDATOR_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDATOR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDATOR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDATOR_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PREDATOR_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PREDATOR_REDIS_KEY_PREFIX")
	setBool(&cfg.Redis.Lease, "PREDATOR_REDIS_LEASE")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "PREDATOR_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "PREDATOR_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "PREDATOR_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PREDATOR_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PREDATOR_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PREDATOR_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PREDATOR_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PREDATOR_SUPABASE_SSL_MODE")
	setBool(&cfg.Supabase.RunMigrations, "PREDATOR_SUPABASE_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDATOR_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDATOR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDATOR_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDATOR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDATOR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDATOR_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PREDATOR_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PREDATOR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PREDATOR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDATOR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDATOR_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDATOR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDATOR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDATOR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDATOR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDATOR_MODE")
	setStr(&cfg.LogLevel, "PREDATOR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setProviders replaces the provider list with one entry per URL, named
// <prefix>-<n> in priority order.
func setProviders(dst *[]ProviderConfig, prefix, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	urls := splitList(v)
	if len(urls) == 0 {
		return
	}
	out := make([]ProviderConfig, len(urls))
	for i, u := range urls {
		out[i] = ProviderConfig{Name: fmt.Sprintf("%s-%d", prefix, i+1), URL: u}
		// Keep per-provider subscribe frames configured in the file.
		if i < len(*dst) {
			out[i].Subscribe = (*dst)[i].Subscribe
		}
	}
	*dst = out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
