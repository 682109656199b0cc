package cli

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

func init() {
	settingsSetCmd.Flags().IntVar(&setGPULayers, "gpu-layers", -2, "GPU layers (-1 = auto)")
	settingsSetCmd.Flags().IntVar(&setContextSize, "context-size", 0, "Context window size")
	settingsSetCmd.Flags().IntVar(&setBatchSize, "batch-size", 0, "Batch size")
	settingsSetCmd.Flags().IntVar(&setThreads, "threads", 0, "Thread count")
	settingsSetCmd.Flags().Float64Var(&setTemperature, "temperature", -1, "Default sampling temperature")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsOptimalCmd)
	rootCmd.AddCommand(settingsCmd)
}

var (
	setGPULayers   int
	setContextSize int
	setBatchSize   int
	setThreads     int
	setTemperature float64
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or change per-model loading settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get MODEL",
	Short: "Show stored settings for a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsGet,
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var s domain.ModelLoadingSettings
	if err := c.getJSON("/api/models/"+url.PathEscape(args[0])+"/settings", &s); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "gpuLayers\t%s\n", formatIntSetting(s.GPULayers))
	fmt.Fprintf(w, "contextSize\t%s\n", formatIntSetting(s.ContextSize))
	fmt.Fprintf(w, "batchSize\t%s\n", formatIntSetting(s.BatchSize))
	fmt.Fprintf(w, "threads\t%s\n", formatIntSetting(s.Threads))
	if s.Temperature != nil {
		fmt.Fprintf(w, "temperature\t%g\n", *s.Temperature)
	} else {
		fmt.Fprintf(w, "temperature\tauto\n")
	}
	return w.Flush()
}

var settingsSetCmd = &cobra.Command{
	Use:   "set MODEL",
	Short: "Store settings for a model (applied on next load)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsSet,
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var s domain.ModelLoadingSettings
	if setGPULayers >= -1 {
		s.GPULayers = &setGPULayers
	}
	if setContextSize > 0 {
		s.ContextSize = &setContextSize
	}
	if setBatchSize > 0 {
		s.BatchSize = &setBatchSize
	}
	if setThreads > 0 {
		s.Threads = &setThreads
	}
	if setTemperature >= 0 {
		s.Temperature = &setTemperature
	}

	if err := c.putJSON("/api/models/"+url.PathEscape(args[0])+"/settings", s, nil); err != nil {
		return err
	}
	fmt.Printf("settings stored for %s\n", args[0])
	return nil
}

var settingsOptimalCmd = &cobra.Command{
	Use:   "optimal MODEL",
	Short: "Show the planner's computed settings for a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsOptimal,
}

func runSettingsOptimal(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var plan domain.LoadSettings
	if err := c.postJSON("/api/models/"+url.PathEscape(args[0])+"/optimal-settings", nil, &plan); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "gpuLayers\t%d\n", plan.GPULayers)
	fmt.Fprintf(w, "contextSize\t%d\n", plan.ContextSize)
	fmt.Fprintf(w, "batchSize\t%d\n", plan.BatchSize)
	fmt.Fprintf(w, "threads\t%d\n", plan.Threads)
	fmt.Fprintf(w, "temperature\t%g\n", plan.Temperature)
	return w.Flush()
}

func formatIntSetting(p *int) string {
	if p == nil {
		return "auto"
	}
	return fmt.Sprintf("%d", *p)
}
