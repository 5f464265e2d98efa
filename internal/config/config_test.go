package config

import (
	"flag"
	"os"
	"testing"
)

func parse(t *testing.T, args ...string) Flags {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f, err := ParseFlags(fs, args)
	if err != nil {
		t.Fatalf("ParseFlags(%v) error: %v", args, err)
	}
	return f
}

func TestSingleAccountIDFlag(t *testing.T) {
	f := parse(t, "--account-id", "acct-1", "--sl-buffer", "6")
	if len(f.Accounts) != 1 || f.Accounts[0].ID != "acct-1" {
		t.Fatalf("accounts = %+v, want one account acct-1", f.Accounts)
	}
	if f.Accounts[0].SLBufferTicks != 6 {
		t.Errorf("sl buffer = %d, want 6 (the global default, no --account scoped it)", f.Accounts[0].SLBufferTicks)
	}
}

// TestPerAccountFlagsScopeToPrecedingAccount matches spec.md §6's repeated
// "--account N [--sl-buffer K] ..." surface: a flag after --account N
// applies only to N, and a later --account with no matching flag falls back
// to the process-wide default.
func TestPerAccountFlagsScopeToPrecedingAccount(t *testing.T) {
	f := parse(t,
		"--sl-buffer", "4",
		"--account", "acct1", "--sl-buffer", "9",
		"--account", "acct2",
	)
	if len(f.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %+v", f.Accounts)
	}
	if f.Accounts[0].SLBufferTicks != 9 {
		t.Errorf("acct1 sl buffer = %d, want 9 (its own override)", f.Accounts[0].SLBufferTicks)
	}
	if f.Accounts[1].SLBufferTicks != 4 {
		t.Errorf("acct2 sl buffer = %d, want 4 (the global default)", f.Accounts[1].SLBufferTicks)
	}
}

func TestPerAccountSymbolsAndAlertName(t *testing.T) {
	f := parse(t,
		"--account", "acct1", "--symbols", "ES, NQ", "--alert-name", "strategy-a",
		"--account", "acct2", "--symbols", "GC",
	)
	if got := f.Accounts[0].Symbols; len(got) != 2 || got[0] != "ES" || got[1] != "NQ" {
		t.Errorf("acct1 symbols = %v, want [ES NQ]", got)
	}
	if f.Accounts[0].AlertName != "strategy-a" {
		t.Errorf("acct1 alert name = %q, want strategy-a", f.Accounts[0].AlertName)
	}
	if got := f.Accounts[1].Symbols; len(got) != 1 || got[0] != "GC" {
		t.Errorf("acct2 symbols = %v, want [GC]", got)
	}
	if f.Accounts[1].AlertName != "" {
		t.Errorf("acct2 alert name = %q, want empty (no --alert-name followed it)", f.Accounts[1].AlertName)
	}
}

func TestGlobalSymbolsFallBackWhenAccountHasNone(t *testing.T) {
	f := parse(t, "--symbols", "ES,NQ", "--account", "acct1")
	if got := f.Accounts[0].Symbols; len(got) != 2 || got[0] != "ES" || got[1] != "NQ" {
		t.Errorf("acct1 should inherit the global symbol list, got %v", got)
	}
}

func TestMaxRetriesAndMaxContractsScoping(t *testing.T) {
	f := parse(t,
		"--max-retries", "2", "--max-contracts", "10",
		"--account", "acct1", "--max-contracts", "3",
		"--account", "acct2",
	)
	if f.Accounts[0].MaxRetries != 2 {
		t.Errorf("acct1 max retries = %d, want 2 (global default)", f.Accounts[0].MaxRetries)
	}
	if f.Accounts[0].MaxContracts != 3 {
		t.Errorf("acct1 max contracts = %d, want 3 (its own override)", f.Accounts[0].MaxContracts)
	}
	if f.Accounts[1].MaxContracts != 10 {
		t.Errorf("acct2 max contracts = %d, want 10 (global default)", f.Accounts[1].MaxContracts)
	}
}

func TestDryRunFlag(t *testing.T) {
	f := parse(t, "--dry-run")
	if !f.DryRun {
		t.Error("expected DryRun = true")
	}
}

func TestAccountFlagRequiresValue(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := ParseFlags(fs, []string{"--account", ""}); err == nil {
		t.Error("expected an error for an empty --account value")
	}
}

func TestSplitListTrimsAndDropsEmpties(t *testing.T) {
	got := splitList(" ES , NQ ,,GC")
	want := []string{"ES", "NQ", "GC"}
	if len(got) != len(want) {
		t.Fatalf("splitList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitListEmptyStringIsNil(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"ENGINE_POSTGRES_DSN", "ENGINE_ALERT_CHANNEL", "ENGINE_REDIS_ADDR",
		"ENGINE_VAULT_ENABLED", "ENGINE_LOG_LEVEL", "ENGINE_WRITE_QUEUE_BUFFER",
	} {
		os.Unsetenv(key)
	}

	env := LoadEnv()
	if env.PostgresDSN != "postgres://localhost:5432/engine" {
		t.Errorf("default postgres dsn = %q", env.PostgresDSN)
	}
	if env.AlertChannel != "alerts" {
		t.Errorf("default alert channel = %q, want alerts", env.AlertChannel)
	}
	if env.VaultEnabled {
		t.Error("vault should default to disabled")
	}
	if env.LogLevel != "INFO" {
		t.Errorf("default log level = %q, want INFO", env.LogLevel)
	}
	if env.WriteQueueBuffer != 256 {
		t.Errorf("default write queue buffer = %d, want 256", env.WriteQueueBuffer)
	}
}

func TestLoadEnvReadsOverrides(t *testing.T) {
	os.Setenv("ENGINE_LOG_LEVEL", "DEBUG")
	defer os.Unsetenv("ENGINE_LOG_LEVEL")
	os.Setenv("ENGINE_WRITE_QUEUE_BUFFER", "512")
	defer os.Unsetenv("ENGINE_WRITE_QUEUE_BUFFER")

	env := LoadEnv()
	if env.LogLevel != "DEBUG" {
		t.Errorf("log level = %q, want DEBUG", env.LogLevel)
	}
	if env.WriteQueueBuffer != 512 {
		t.Errorf("write queue buffer = %d, want 512", env.WriteQueueBuffer)
	}
}
