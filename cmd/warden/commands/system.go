package commands

import (
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/access"
	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/isolation"
	"github.com/MEKXH/warden/internal/monitor"
	"github.com/MEKXH/warden/internal/notify"
	"github.com/MEKXH/warden/internal/oversight"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/MEKXH/warden/internal/threat"
)

// buildSafetyConfig translates the file configuration into component settings.
// Policy bundles listed in access.policy_files are merged in as startup defaults.
func buildSafetyConfig(cfg *config.Config, workspace string) (safety.Config, error) {
	securityLevel, err := isolation.ParseSecurityLevel(cfg.Safety.SecurityLevel)
	if err != nil {
		return safety.Config{}, err
	}

	accessCfg, err := buildAccessConfig(cfg.Access)
	if err != nil {
		return safety.Config{}, err
	}

	policies := isolation.DefaultPolicies()
	for name, lvl := range cfg.Isolation.Levels {
		level, err := isolation.ParseSecurityLevel(name)
		if err != nil {
			return safety.Config{}, fmt.Errorf("isolation.levels: %w", err)
		}
		p := policies[level]
		if lvl.BlockedCommands != nil {
			p.BlockedCommands = lvl.BlockedCommands
		}
		if lvl.MaxExecutionSeconds > 0 {
			p.MaxExecutionTime = seconds(lvl.MaxExecutionSeconds)
		}
		policies[level] = p
	}

	o := cfg.Oversight
	m := cfg.Monitor
	return safety.Config{
		Workspace:         workspace,
		SecurityLevel:     securityLevel,
		EnableIsolation:   cfg.Safety.EnableIsolation,
		EnableOversight:   cfg.Safety.EnableOversight,
		DefaultResource:   cfg.Safety.DefaultResource,
		ExecutionTimeout:  seconds(cfg.Safety.ExecutionTimeoutSeconds),
		OversightTimeout:  seconds(o.TimeoutSeconds),
		OversightRequired: cfg.Safety.OversightRequired,
		Threat:            buildThreatConfig(cfg.Threat),
		Access:            accessCfg,
		Oversight: oversight.Config{
			DefaultTimeout: seconds(o.TimeoutSeconds),
			NotifyTimeout:  seconds(o.NotifyTimeoutSeconds),
			SweepInterval:  seconds(o.SweepSeconds),
			CompletedLimit: o.CompletedLimit,
			Risk: oversight.RiskConfig{
				HighRiskTypes:     o.HighRiskTypes,
				MediumRiskTypes:   o.MediumRiskTypes,
				HighRiskAgents:    o.HighRiskAgents,
				HighTypeWeight:    o.HighTypeWeight,
				MediumTypeWeight:  o.MediumTypeWeight,
				LowTypeWeight:     o.LowTypeWeight,
				AgentWeight:       o.AgentWeight,
				ExternalWeight:    o.ExternalWeight,
				ProductionWeight:  o.ProductionWeight,
				ElevatedWeight:    o.ElevatedWeight,
				CriticalThreshold: o.CriticalThreshold,
				HighThreshold:     o.HighThreshold,
				MediumThreshold:   o.MediumThreshold,
			},
		},
		Monitor: monitor.Config{
			QueueSize:     m.QueueSize,
			SlowExecution: seconds(m.SlowExecutionSeconds),
			RecentAlerts:  m.RecentAlerts,
		},
		Dashboard: monitor.DashboardConfig{
			Interval:        seconds(m.SampleIntervalSeconds),
			Retention:       time.Duration(m.RetentionHours) * time.Hour,
			MaxSamples:      m.MaxSamples,
			QueueThreshold:  m.QueueThreshold,
			MemoryThreshold: m.MemoryThreshold,
			CPUThreshold:    m.CPUThreshold,
			AlertThreshold:  m.AlertThreshold,
		},
		IsolationPolicies: policies,
	}, nil
}

func buildThreatConfig(t config.ThreatConfig) threat.Config {
	out := threat.Config{
		Thresholds: threat.Thresholds{
			Critical: t.CriticalThreshold,
			High:     t.HighThreshold,
			Medium:   t.MediumThreshold,
			Low:      t.LowThreshold,
		},
		MaxScore:     t.MaxScore,
		MarkerLimit:  t.MarkerLimit,
		Base64Limit:  t.Base64Limit,
		PercentLimit: t.PercentLimit,
		UnicodeLimit: t.UnicodeLimit,
	}
	if len(t.Weights) > 0 {
		out.Weights = make(map[threat.Category]float64, len(t.Weights))
		for cat, w := range t.Weights {
			out.Weights[threat.Category(strings.ToLower(cat))] = w
		}
	}
	return out
}

func buildAccessConfig(a config.AccessConfig) (access.Config, error) {
	agents, err := buildGrants(a.Agents)
	if err != nil {
		return access.Config{}, err
	}
	users, err := buildGrants(a.Users)
	if err != nil {
		return access.Config{}, err
	}
	out := access.Config{
		SessionTimeout:    time.Duration(a.SessionTimeoutMinutes) * time.Minute,
		MaxFailedAttempts: a.MaxFailedAttempts,
		LockoutDuration:   time.Duration(a.LockoutMinutes) * time.Minute,
		TokenSecret:       a.TokenSecret,
		DefaultAgents:     agents,
		DefaultUsers:      users,
	}

	for _, path := range a.PolicyFiles {
		bundle, err := access.LoadBundle(path)
		if err != nil {
			return access.Config{}, err
		}
		out.Policies = append(out.Policies, bundle.Policies...)
		mergeGrants(out.DefaultAgents, bundle.Agents)
		mergeGrants(out.DefaultUsers, bundle.Users)
		slog.Debug("policy bundle loaded", "path", path, "policies", len(bundle.Policies))
	}
	return out, nil
}

func buildGrants(in map[string]map[string]config.PermissionConfig) (map[string]access.Permissions, error) {
	out := make(map[string]access.Permissions, len(in))
	for name, resources := range in {
		perms := make(access.Permissions, len(resources))
		for resource, p := range resources {
			level, err := access.ParseLevel(p.Level)
			if err != nil {
				return nil, fmt.Errorf("access grant for %s on %s: %w", name, resource, err)
			}
			perms[resource] = access.ResourcePermission{Level: level, Actions: maps.Clone(p.Actions)}
		}
		out[name] = perms
	}
	return out, nil
}

// mergeGrants adds bundle permissions; resources already configured for a name win.
func mergeGrants(dst, src map[string]access.Permissions) {
	for name, perms := range src {
		existing, ok := dst[name]
		if !ok {
			dst[name] = perms.Clone()
			continue
		}
		for resource, p := range perms {
			if _, ok := existing[resource]; !ok {
				existing[resource] = p
			}
		}
	}
}

// buildNotifier assembles the oversight sinks; nil when none are enabled.
func buildNotifier(cfg config.NotifyConfig) (oversight.Notifier, error) {
	var sinks notify.Multi
	if cfg.Log {
		sinks = append(sinks, notify.Log{})
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatIDs)
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		sinks = append(sinks, tg)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

func buildCredentials(a config.AccessConfig) access.CredentialValidator {
	if len(a.Credentials) == 0 {
		return nil
	}
	return access.NewStaticCredentials(a.Credentials)
}

// newSafetySystem builds the full safety system from configuration.
func newSafetySystem(cfg *config.Config, deps safety.Deps) (*safety.System, error) {
	workspace, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}
	sc, err := buildSafetyConfig(cfg, workspace)
	if err != nil {
		return nil, err
	}
	if deps.Notifier == nil {
		if deps.Notifier, err = buildNotifier(cfg.Notify); err != nil {
			return nil, err
		}
	}
	if deps.Credentials == nil {
		deps.Credentials = buildCredentials(cfg.Access)
	}
	return safety.New(sc, deps)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
