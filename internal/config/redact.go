package config

import (
	"net/url"
	"regexp"
)

const mask = "xxxxx"

var dsnPassword = regexp.MustCompile(`(?i)(password=)('[^']*'|\S+)`)

// Redacted returns a copy that is safe to log. Credentials are masked.
func (c Config) Redacted() Config {
	out := c
	if out.Provider.Token != "" {
		out.Provider.Token = mask
	}
	if out.Cache.RedisPassword != "" {
		out.Cache.RedisPassword = mask
	}
	out.History.Postgres.DSN = RedactDSN(out.History.Postgres.DSN)
	return out
}

// RedactDSN masks the password of a URL or key=value connection string
func RedactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), mask)
		}
		return u.String()
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+mask)
}
