package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Tokens and
// passwords become "***". URLs keep their host but lose any password, so the
// log still shows which indexer, database and bucket endpoint are in use.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, secret := range []*string{
		&out.API.APIKey,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Notify.TelegramToken,
		// The webhook path is the credential.
		&out.Notify.DiscordWebhookURL,
	} {
		redact(secret)
	}
	for _, u := range []*string{&out.API.BaseURL, &out.Postgres.DSN, &out.S3.Endpoint} {
		redactURL(u)
	}

	out.Server.APIKeys = make([]string, len(cfg.Server.APIKeys))
	for i := range out.Server.APIKeys {
		out.Server.APIKeys[i] = redacted
	}
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Monitor.Troves = slices.Clone(cfg.Monitor.Troves)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL masks the password in a URL as "xxxxx". Values that do not parse as a URL
// with a scheme, such as key=value DSNs, are masked entirely.
func redactURL(s *string) {
	if *s == "" {
		return
	}
	u, err := url.Parse(*s)
	if err != nil || u.Scheme == "" {
		*s = redacted
		return
	}
	*s = u.Redacted()
}
