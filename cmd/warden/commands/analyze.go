package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MEKXH/warden/internal/threat"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Score a prompt for injection and attack patterns",
		Long:  "Score a prompt for injection and attack patterns. Reads stdin when no text is given.",
		RunE:  runAnalyze,
	}
	cmd.Flags().String("file", "", "Read the prompt from a file")
	cmd.Flags().Bool("json", false, "Print the raw analysis")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	text, err := analyzeInput(cmd, args)
	if err != nil {
		return err
	}

	detector, err := threat.NewDetector(buildThreatConfig(cfg.Threat))
	if err != nil {
		return fmt.Errorf("create threat detector: %w", err)
	}
	analysis := detector.Analyze(text, nil)

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}
	fmt.Fprint(out, renderAnalysis(analysis))
	return nil
}

func analyzeInput(cmd *cobra.Command, args []string) (string, error) {
	if path, _ := cmd.Flags().GetString("file"); strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		return string(data), nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func renderAnalysis(a threat.Analysis) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Prompt Analysis"))
	b.WriteString("\n")

	level := a.Level.String()
	levelStyle := lipgloss.NewStyle().Bold(true)
	if c := riskColor(level); c != nil {
		levelStyle = levelStyle.Foreground(c)
	}
	b.WriteString(labeled("Threat level", levelStyle.Render(level)) + "\n")
	b.WriteString(labeled("Risk score", fmt.Sprintf("%.1f", a.RiskScore)) + "\n")
	b.WriteString(labeled("Safe to execute", fmt.Sprint(a.SafeToExecute)) + "\n")
	b.WriteString(labeled("Protection", string(threat.Protect(a))) + "\n")

	if len(a.Detections) > 0 {
		b.WriteString("\n")
		rows := make([][]string, 0, len(a.Detections))
		for _, d := range a.Detections {
			rows = append(rows, []string{
				string(d.Category),
				d.Detector,
				fmt.Sprintf("%.1f", d.Score),
				strings.Join(d.Matches, ", "),
			})
		}
		b.WriteString(renderTable("Detections", []column{
			{"CATEGORY", 26}, {"DETECTOR", 22}, {"SCORE", 6}, {"MATCHES", 36},
		}, rows, nil))
	}

	b.WriteString(sectionStyle.Render("Recommendations") + "\n")
	for _, r := range a.Recommendations {
		b.WriteString("  - " + r + "\n")
	}
	b.WriteString("\n")
	return b.String()
}
