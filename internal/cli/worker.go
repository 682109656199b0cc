package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sengac/mindstrike-sub006/internal/backend"
	"github.com/sengac/mindstrike-sub006/internal/catalog"
	"github.com/sengac/mindstrike-sub006/internal/daemon"
	"github.com/sengac/mindstrike-sub006/internal/planner"
	"github.com/sengac/mindstrike-sub006/internal/wire"
	"github.com/sengac/mindstrike-sub006/internal/worker"
)

func init() {
	workerCmd.Flags().StringVar(&workerModelsDir, "models-dir", "", "Models directory")
	rootCmd.AddCommand(workerCmd)
}

var workerModelsDir string

// workerCmd is the entrypoint of the spawned inference worker. The
// controller re-execs the binary with this subcommand and frames envelopes
// over the child's stdio; stderr carries the worker's log output.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	Short:  "Run the inference worker (internal)",
	RunE:   runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	dir := workerModelsDir
	if dir == "" {
		d, err := daemon.LoadConfig()
		if err != nil {
			return err
		}
		dir = d.Models.Dir
	}

	source, err := catalog.NewSource(dir)
	if err != nil {
		return err
	}

	// Real inference when llama-server is installed; deterministic mock
	// otherwise so the serving stack stays testable end to end.
	var b backend.Backend
	if real, err := backend.NewLlamaServerBackend(daemon.Home()); err == nil {
		b = real
	} else {
		fmt.Fprintln(os.Stderr, "WARNING: llama-server not found, using mock backend (no real inference)")
		b = backend.NewMockBackend()
	}

	codec := wire.NewCodec(os.Stdin, os.Stdout, nil)
	w := worker.New(codec, b, source, planner.NewHostInfo())
	return w.Run(context.Background())
}
