// Package config resolves per-environment Postgres connection parameters.
// Parameters are resolved once at the CLI boundary and passed explicitly;
// nothing below the command layer reads process state.
package config

import (
	"fmt"
	"strings"
)

// Environments the tooling knows about. Each maps to its own set of
// {ENV}_POSTGRES_* variables so a prod invocation can never pick up dev
// credentials by accident.
var Environments = []string{"prod", "stage", "dev", "test", "local"}

type Params struct {
	Environment string
	Host        string
	Port        string
	Database    string
	User        string
	Password    string
}

// Resolve reads the connection parameters for environment from lookup
// (usually os.LookupEnv). The database name is required; the rest fall
// back to local-development defaults.
func Resolve(environment string, lookup func(string) (string, bool)) (Params, error) {
	if !knownEnvironment(environment) {
		return Params{}, fmt.Errorf("unknown environment %q (want one of %s)", environment, strings.Join(Environments, ", "))
	}
	prefix := strings.ToUpper(environment) + "_POSTGRES_"
	get := func(suffix, fallback string) string {
		if value, ok := lookup(prefix + suffix); ok && value != "" {
			return value
		}
		return fallback
	}
	params := Params{
		Environment: environment,
		Host:        get("HOST", "localhost"),
		Port:        get("PORT", "5432"),
		Database:    get("DB", ""),
		User:        get("USER", "postgres"),
		Password:    get("PASSWORD", "postgres"),
	}
	if params.Database == "" {
		return Params{}, fmt.Errorf("%sDB is not set", prefix)
	}
	return params, nil
}

func knownEnvironment(environment string) bool {
	for _, known := range Environments {
		if environment == known {
			return true
		}
	}
	return false
}

// DSN renders the parameters as a pgx connection string.
func (p Params) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		p.User, p.Password, p.Host, p.Port, p.Database,
	)
}
