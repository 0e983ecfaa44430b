package isolation

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestPolicyCheck_Levels(t *testing.T) {
	policies := DefaultPolicies()
	cases := []struct {
		level   SecurityLevel
		command string
		blocked bool
	}{
		{LevelMinimal, "sudo ls", true},
		{LevelMinimal, "ls && su root", true},
		{LevelMinimal, "cat summary.txt", false},
		{LevelMinimal, "chmod 777 file", false},
		{LevelStandard, "chmod 777 file", true},
		{LevelStandard, "rm -rf /tmp/x", true},
		{LevelStandard, "rm -r build", false},
		{LevelStrict, "chmod +x run.sh", true},
		{LevelStrict, "chown me file", true},
		{LevelMaximum, "rm file.txt", true},
		{LevelMaximum, "echo format", false},
		{LevelMinimal, "mkfs.ext4 /dev/sda1", true},
	}
	for _, tc := range cases {
		p := compilePolicy(policies[tc.level])
		got := p.check(tc.command) != ""
		if got != tc.blocked {
			t.Fatalf("%s %q blocked=%v, want %v", tc.level, tc.command, got, tc.blocked)
		}
	}
}

func TestParseSecurityLevel(t *testing.T) {
	if got, err := ParseSecurityLevel(""); err != nil || got != LevelStandard {
		t.Fatalf("empty level = %q, %v", got, err)
	}
	if got, err := ParseSecurityLevel("STRICT"); err != nil || got != LevelStrict {
		t.Fatalf("STRICT = %q, %v", got, err)
	}
	if _, err := ParseSecurityLevel("paranoid"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLocalProvider_Lifecycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	p := NewLocalProvider(t.TempDir(), nil)
	ctx := context.Background()

	env, err := p.CreateEnvironment(ctx, "Web Surfer", LevelStandard)
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if !strings.HasPrefix(env.ID, "env_web_surfer_") {
		t.Fatalf("unexpected id %q", env.ID)
	}
	if _, err := os.Stat(env.WorkspacePath); err != nil {
		t.Fatalf("workspace missing: %v", err)
	}

	res, err := p.Execute(ctx, env.ID, "echo hello && pwd", 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 || !strings.Contains(res.Stdout, "hello") {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = p.Execute(ctx, env.ID, "exit 3", 0)
	if err != nil {
		t.Fatalf("Execute exit: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}

	res, err = p.Execute(ctx, env.ID, "sudo whoami", 0)
	if err != nil {
		t.Fatalf("Execute blocked: %v", err)
	}
	if !res.Blocked || res.BlockReason == "" {
		t.Fatalf("expected blocked result: %+v", res)
	}

	if len(p.Environments()) != 1 {
		t.Fatalf("expected one environment")
	}
	if err := p.Destroy(ctx, env.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(env.WorkspacePath); !os.IsNotExist(err) {
		t.Fatalf("workspace should be removed, stat err=%v", err)
	}
	if err := p.Destroy(ctx, env.ID); !errors.Is(err, ErrEnvironmentNotFound) {
		t.Fatalf("expected ErrEnvironmentNotFound, got %v", err)
	}
	if _, err := p.Execute(ctx, env.ID, "true", 0); !errors.Is(err, ErrEnvironmentNotFound) {
		t.Fatalf("expected ErrEnvironmentNotFound, got %v", err)
	}
}

func TestLocalProvider_TimeoutCappedByLevel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	p := NewLocalProvider(t.TempDir(), map[SecurityLevel]Policy{
		LevelMaximum: {BlockedCommands: []string{"rm"}, MaxExecutionTime: 100 * time.Millisecond},
	})
	env, err := p.CreateEnvironment(context.Background(), "coder", LevelMaximum)
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	res, err := p.Execute(context.Background(), env.ID, "sleep 5", time.Minute)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestLocalProvider_EmptyCommand(t *testing.T) {
	p := NewLocalProvider(t.TempDir(), nil)
	env, err := p.CreateEnvironment(context.Background(), "coder", LevelMinimal)
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if _, err := p.Execute(context.Background(), env.ID, "   ", 0); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}
