package config

import "net/url"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.Supabase = cfg.Supabase
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)

	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	// RPC and feed URLs often embed an API key in the path or query.
	out.Chain.Providers = redactProviders(cfg.Chain.Providers)
	out.OrderBook.Providers = redactProviders(cfg.OrderBook.Providers)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Whale.Addresses = append([]string(nil), cfg.Whale.Addresses...)
	out.Whale.DexRouters = append([]string(nil), cfg.Whale.DexRouters...)
	if cfg.Whale.Exchanges != nil {
		out.Whale.Exchanges = make(map[string]string, len(cfg.Whale.Exchanges))
		for k, v := range cfg.Whale.Exchanges {
			out.Whale.Exchanges[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func redactProviders(in []ProviderConfig) []ProviderConfig {
	if in == nil {
		return nil
	}
	out := make([]ProviderConfig, len(in))
	for i, p := range in {
		p.URL = redactURL(p.URL)
		out[i] = p
	}
	return out
}

// redactURL keeps scheme and host and hides everything that may carry a key.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if raw == "" {
			return ""
		}
		return redacted
	}
	if u.Path == "" && u.RawQuery == "" && u.User == nil {
		return raw
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
