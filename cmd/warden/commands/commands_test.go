package commands

import (
	"bytes"
	"io"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/gateway"
	"github.com/MEKXH/warden/internal/monitor"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/prometheus/client_golang/prometheus"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	_ = r.Close()

	return buf.String()
}

type staticProbe struct{}

func (staticProbe) Sample() monitor.HostSample { return monitor.HostSample{} }

// useTempHome points the config directory at a fresh temp dir for one test.
func useTempHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("WARDEN_HOME", dir)
	prevConfig, prevLevel := configFile, logLevelOverride
	configFile, logLevelOverride = "", ""
	t.Cleanup(func() { configFile, logLevelOverride = prevConfig, prevLevel })
	return dir
}

// runRoot executes the CLI with args and returns what the command wrote.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace = config.WorkspaceConfig{Mode: "path", Path: t.TempDir()}
	cfg.Safety.EnableIsolation = false
	cfg.Notify.Log = false
	return cfg
}

// newTestGateway serves the real gateway handler over a safety system built from cfg.
func newTestGateway(t *testing.T, cfg *config.Config) (*gatewayClient, *safety.System) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sys, err := newSafetySystem(cfg, safety.Deps{Probe: staticProbe{}, Registerer: reg})
	if err != nil {
		t.Fatalf("newSafetySystem: %v", err)
	}
	sys.Start()
	t.Cleanup(sys.Close)

	opts, err := gatewayOptions(sys, reg)
	if err != nil {
		t.Fatalf("gatewayOptions: %v", err)
	}
	opts.Token = cfg.Gateway.Token
	srv := httptest.NewServer(gateway.NewHandler(opts))
	t.Cleanup(srv.Close)

	return &gatewayClient{baseURL: srv.URL, token: cfg.Gateway.Token, http: srv.Client()}, sys
}
