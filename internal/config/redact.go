package config

import (
	"net/url"
	"regexp"
)

const redacted = "[REDACTED]"

var (
	dsnPassword = regexp.MustCompile(`(postgres(?:ql)?://[^:/@\s]+:)[^@\s]+@`)
	botToken    = regexp.MustCompile(`bot\d+:[A-Za-z0-9_-]+`)
)

// RedactString masks DSN passwords and Telegram bot tokens in free text
// such as wrapped driver errors
func RedactString(s string) string {
	s = dsnPassword.ReplaceAllString(s, "${1}"+redacted+"@")
	return botToken.ReplaceAllString(s, "bot"+redacted)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return RedactString(dsn)
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}

// Redacted returns a copy that is safe to log
func (c Config) Redacted() Config {
	out := c
	out.Postgres.DSN = redactDSN(c.Postgres.DSN)
	if c.Telegram.BotToken != "" {
		out.Telegram.BotToken = redacted
	}
	return out
}
