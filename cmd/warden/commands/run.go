package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MEKXH/warden/internal/agenttool"
	"github.com/MEKXH/warden/internal/gateway"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/cloudwego/eino/components/tool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the Warden safety gateway",
		RunE:  runServer,
	}

	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sys, err := newSafetySystem(cfg, safety.Deps{Registerer: reg})
	if err != nil {
		return fmt.Errorf("failed to build safety system: %w", err)
	}
	sys.Start()

	opts, err := gatewayOptions(sys, reg)
	if err != nil {
		sys.Close()
		return err
	}

	errCh := make(chan error, 1)
	gatewayServer := gateway.New(cfg.Gateway, opts)
	go func() {
		if err := gatewayServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Printf("Warden running. Gateway: http://%s\nSecurity level: %s\nPress Ctrl+C to stop.\n",
		gatewayServer.Addr(), cfg.Safety.SecurityLevel)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("server component failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	if err := gatewayServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}
	sys.Close()

	return runErr
}

// ToolAgent is the identity tool calls are screened as when the caller names none.
const ToolAgent = "tool_gateway"

// gatewayOptions wires the safety system and its agent tools into the HTTP handler.
func gatewayOptions(sys *safety.System, gatherer prometheus.Gatherer) (gateway.Options, error) {
	submitTool, err := agenttool.NewSubmitActionTool(sys)
	if err != nil {
		return gateway.Options{}, fmt.Errorf("build submit_action tool: %w", err)
	}
	analyzeTool, err := agenttool.NewAnalyzePromptTool(sys.Detector())
	if err != nil {
		return gateway.Options{}, fmt.Errorf("build analyze_prompt tool: %w", err)
	}

	tools := agenttool.NewRegistry(sys, ToolAgent)
	// Both tools carry text that is screened or analyzed downstream.
	for _, t := range []tool.InvokableTool{submitTool, analyzeTool} {
		if err := tools.Register(t, agenttool.SkipPayloadScreening()); err != nil {
			return gateway.Options{}, err
		}
	}

	opts := gateway.Options{
		Actions:  sys,
		Auth:     sys.Access(),
		Gatherer: gatherer,
		Tools:    tools,
	}
	if p := sys.Oversight(); p != nil {
		opts.Reviewer = p
	}
	return opts, nil
}
