// Package config loads the engine's environment-sourced connection/runtime
// settings and parses its CLI surface (spec.md §6). Modeled on the
// teacher's config.Load() two-layer precedence (getEnvOrDefault family) for
// the environment half, and on repeated-flag CLI parsing for the
// `--account` surface.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Account is one configured brokerage account entry from the CLI surface
// (spec.md §4.6, §6): `--account-id N` or repeated `--account N [...]`.
type Account struct {
	ID            string
	AlertName     string // optional signal-name filter
	Symbols       []string
	SLBufferTicks int
	MaxRetries    int
	MaxContracts  int
}

// Flags is the parsed CLI surface (spec.md §6).
type Flags struct {
	Accounts []Account

	Symbols       []string
	Quantity      int
	MaxContracts  int
	MaxRetries    int
	SLBufferTicks int
	SyncIntervalMS int
	DryRun        bool
}

// accountFlags accumulates repeated --account occurrences; flag.Var calls
// Set once per occurrence in command-line order.
type accountFlags struct {
	out *[]Account
}

func (a *accountFlags) String() string { return "" }

// Set parses one `--account` value, formatted as
// "ID[:alertName][:symbols][:slBuffer][:maxRetries][:maxContracts]" is too
// cryptic for an operator to type repeatedly, so each field instead comes
// from its own paired flag applied to the most recently declared account;
// Set here only registers the account ID and appends a blank entry that
// subsequent --alert-name/--symbols/etc. flags (scoped by position) fill in.
func (a *accountFlags) Set(value string) error {
	if value == "" {
		return fmt.Errorf("--account requires an account id")
	}
	*a.out = append(*a.out, Account{ID: value, MaxRetries: -1, MaxContracts: -1, SLBufferTicks: -1})
	return nil
}

// perAccountString implements flag.Value for a flag that scopes to the
// account most recently declared by --account (spec.md §6: "repeated
// --account N [--alert-name NAME] [--symbols L] ..."), falling back to a
// process-wide default when no --account has been seen yet — which is how
// the same flag name also serves as the global `--symbols L` / `--sl-buffer
// K` surface spec.md §6 lists separately.
type perAccountString struct {
	f     *Flags
	apply func(*Account, string)
	def   func(*Flags, string)
}

func (p *perAccountString) String() string { return "" }
func (p *perAccountString) Set(value string) error {
	if n := len(p.f.Accounts); n > 0 {
		p.apply(&p.f.Accounts[n-1], value)
		return nil
	}
	p.def(p.f, value)
	return nil
}

type perAccountInt struct {
	f     *Flags
	apply func(*Account, int)
	def   func(*Flags, int)
}

func (p *perAccountInt) String() string { return "" }
func (p *perAccountInt) Set(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected integer, got %q: %w", value, err)
	}
	if len(p.f.Accounts) > 0 {
		p.apply(&p.f.Accounts[len(p.f.Accounts)-1], n)
		return nil
	}
	p.def(p.f, n)
	return nil
}

// ParseFlags parses the process's CLI arguments into Flags (spec.md §6).
// Exit code 1 on missing required flags is the caller's responsibility
// (cmd/engine checks Flags.Accounts after this returns).
func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	f := &Flags{}
	var singleAccountID string

	fs.StringVar(&singleAccountID, "account-id", "", "single brokerage account id (mutually exclusive with --account)")
	fs.Var(&accountFlags{out: &f.Accounts}, "account", "brokerage account id; repeat for multiple accounts")
	fs.Var(&perAccountString{f: f, apply: func(a *Account, v string) { a.AlertName = v }, def: func(*Flags, string) {}},
		"alert-name", "signal-name filter for the preceding --account")
	fs.Var(&perAccountString{f: f,
		apply: func(a *Account, v string) { a.Symbols = splitList(v) },
		def:   func(f *Flags, v string) { f.Symbols = splitList(v) },
	}, "symbols", "comma-separated symbol filter for the preceding --account, or the global default")
	fs.Var(&perAccountInt{f: f,
		apply: func(a *Account, v int) { a.SLBufferTicks = v },
		def:   func(f *Flags, v int) { f.SLBufferTicks = v },
	}, "sl-buffer", "stop-loss buffer in ticks for the preceding --account, or the global default")
	fs.Var(&perAccountInt{f: f,
		apply: func(a *Account, v int) { a.MaxRetries = v },
		def:   func(f *Flags, v int) { f.MaxRetries = v },
	}, "max-retries", "max retry-ladder attempts for the preceding --account, or the global default")
	fs.Var(&perAccountInt{f: f,
		apply: func(a *Account, v int) { a.MaxContracts = v },
		def:   func(f *Flags, v int) { f.MaxContracts = v },
	}, "max-contracts", "micro-equivalent capacity budget for the preceding --account, or the global default")

	fs.IntVar(&f.Quantity, "quantity", 1, "order quantity in contracts; parsed but not passed to the position machines, which use the alert's quantity or 1")
	fs.IntVar(&f.SyncIntervalMS, "sync-interval", 60000, "reconciliation interval in ms; 0 disables")
	fs.BoolVar(&f.DryRun, "dry-run", false, "replace the brokerage adapter with a no-op paper adapter")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if singleAccountID != "" {
		f.Accounts = append(f.Accounts, Account{ID: singleAccountID, MaxRetries: -1, MaxContracts: -1, SLBufferTicks: -1})
	}

	// Resolve per-account -1 sentinels (no flag seen for this account) against
	// the process globals, the same way the teacher's config layers env over
	// file defaults.
	for i := range f.Accounts {
		if f.Accounts[i].SLBufferTicks < 0 {
			f.Accounts[i].SLBufferTicks = f.SLBufferTicks
		}
		if f.Accounts[i].MaxRetries < 0 {
			f.Accounts[i].MaxRetries = f.MaxRetries
		}
		if f.Accounts[i].MaxContracts < 0 {
			f.Accounts[i].MaxContracts = f.MaxContracts
		}
		if len(f.Accounts[i].Symbols) == 0 {
			f.Accounts[i].Symbols = f.Symbols
		}
	}

	return *f, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Env holds the environment-sourced settings not exposed on the CLI:
// connection info for the brokerage adapter, the alert source, and the
// persistence store (spec.md §6 "Environment": credentials and URLs,
// consumed by the respective adapters, not by the core).
type Env struct {
	PostgresDSN string
	AlertChannel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VaultEnabled bool
	VaultAddr    string
	VaultToken   string
	VaultMount   string

	PaperFeedURL    string
	PaperJWTSecret  string

	StatusAddr             string
	StatusOperatorTokenHash string

	LogLevel  string
	LogOutput string
	LogJSON   bool

	WriteQueueFlushInterval time.Duration
	WriteQueueBuffer        int
}

// LoadEnv reads the engine's environment-sourced configuration, mirroring
// the teacher's getEnvOrDefault precedence (config/config.go).
func LoadEnv() Env {
	return Env{
		PostgresDSN:  getEnvOrDefault("ENGINE_POSTGRES_DSN", "postgres://localhost:5432/engine"),
		AlertChannel: getEnvOrDefault("ENGINE_ALERT_CHANNEL", "alerts"),

		RedisAddr:     getEnvOrDefault("ENGINE_REDIS_ADDR", ""),
		RedisPassword: getEnvOrDefault("ENGINE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvIntOrDefault("ENGINE_REDIS_DB", 0),

		VaultEnabled: getEnvOrDefault("ENGINE_VAULT_ENABLED", "false") == "true",
		VaultAddr:    getEnvOrDefault("VAULT_ADDR", ""),
		VaultToken:   getEnvOrDefault("VAULT_TOKEN", ""),
		VaultMount:   getEnvOrDefault("ENGINE_VAULT_MOUNT", "secret"),

		PaperFeedURL:   getEnvOrDefault("ENGINE_PAPER_FEED_URL", "ws://localhost:8765/quotes"),
		PaperJWTSecret: getEnvOrDefault("ENGINE_PAPER_JWT_SECRET", "dev-secret"),

		StatusAddr:              getEnvOrDefault("ENGINE_STATUS_ADDR", ":9090"),
		StatusOperatorTokenHash: getEnvOrDefault("ENGINE_STATUS_TOKEN_HASH", ""),

		LogLevel:  getEnvOrDefault("ENGINE_LOG_LEVEL", "INFO"),
		LogOutput: getEnvOrDefault("ENGINE_LOG_OUTPUT", "stdout"),
		LogJSON:   getEnvOrDefault("ENGINE_LOG_JSON", "false") == "true",

		WriteQueueFlushInterval: time.Duration(getEnvIntOrDefault("ENGINE_FLUSH_INTERVAL_MS", 5000)) * time.Millisecond,
		WriteQueueBuffer:        getEnvIntOrDefault("ENGINE_WRITE_QUEUE_BUFFER", 256),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
