package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const (
	defaultAdminUser  = "lionlock_admin"
	defaultWriterUser = "lionlock_writer"
	defaultDBPort     = 25060
	defaultDBName     = "lionlock_prod"
)

// ValidateIdentifier rejects anything that cannot be spliced into SQL as
// a table or column name.
func ValidateIdentifier(name, label string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier for %s: %q", label, name)
	}
	return nil
}

func envFirst(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// BuildPostgresDSN assembles the telemetry database URI from environment
// variables for the given role ("admin" or "writer"). Credentials only
// ever come from the environment.
func BuildPostgresDSN(role string) (string, error) {
	var user, password string
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin", defaultAdminUser:
		user = envFirst("LIONLOCK_ADMIN_USER")
		if user == "" {
			user = defaultAdminUser
		}
		password = envFirst("LIONLOCK_ADMIN_PASSWORD")
		if password == "" {
			return "", fmt.Errorf("missing LIONLOCK_ADMIN_PASSWORD")
		}
	case "writer", defaultWriterUser, "telemetry":
		user = envFirst("LIONLOCK_WRITER_USER", "LIONLOCK_TELEMETRY_DB_USER")
		if user == "" {
			user = defaultWriterUser
		}
		password = envFirst("LIONLOCK_WRITER_PASSWORD", "LIONLOCK_TELEMETRY_DB_PASSWORD")
		if password == "" {
			return "", fmt.Errorf("missing LIONLOCK_WRITER_PASSWORD or LIONLOCK_TELEMETRY_DB_PASSWORD")
		}
	default:
		return "", fmt.Errorf("role must be admin or writer, got %q", role)
	}

	host := envFirst("LIONLOCK_TELEMETRY_DB_HOST", "LIONLOCK_DB_HOST")
	if host == "" {
		return "", fmt.Errorf("database host missing (LIONLOCK_TELEMETRY_DB_HOST or LIONLOCK_DB_HOST)")
	}
	port := defaultDBPort
	if raw := envFirst("LIONLOCK_TELEMETRY_DB_PORT", "LIONLOCK_DB_PORT"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("database port must be an integer: %q", raw)
		}
		port = parsed
	}
	database := envFirst("LIONLOCK_TELEMETRY_DB_NAME", "LIONLOCK_DB_NAME")
	if database == "" {
		database = defaultDBName
	}

	sslmode := envFirst("LIONLOCK_TELEMETRY_SSLMODE", "LIONLOCK_SSLMODE")
	sslrootcert := envFirst("LIONLOCK_TELEMETRY_SSLROOTCERT", "LIONLOCK_SSLROOTCERT")
	if sslrootcert != "" {
		if _, err := os.Stat(sslrootcert); err != nil {
			sslrootcert = ""
		}
	}
	if sslmode == "" {
		if sslrootcert != "" {
			sslmode = "verify-ca"
		} else {
			sslmode = "require"
		}
	}
	params := url.Values{}
	params.Set("sslmode", sslmode)
	if sslrootcert != "" && sslmode != "require" {
		params.Set("sslrootcert", sslrootcert)
	}

	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(user, password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + database,
		RawQuery: params.Encode(),
	}
	return u.String(), nil
}

// RedactDSN masks credentials in a connection string for logging.
func RedactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		if u.User != nil {
			if _, hasPassword := u.User.Password(); hasPassword {
				u.User = url.UserPassword(u.User.Username(), "REDACTED")
			}
		}
		query := u.Query()
		for key := range query {
			switch strings.ToLower(key) {
			case "password", "pass", "pwd":
				query.Set(key, "REDACTED")
			}
		}
		u.RawQuery = query.Encode()
		return u.String()
	}

	parts := strings.Fields(dsn)
	for i, token := range parts {
		key, _, found := strings.Cut(token, "=")
		if !found {
			continue
		}
		switch strings.ToLower(key) {
		case "password", "pass", "pwd":
			parts[i] = key + "=REDACTED"
		}
	}
	return strings.Join(parts, " ")
}
