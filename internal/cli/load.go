package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

func init() {
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(unloadCmd)
}

var loadCmd = &cobra.Command{
	Use:   "load MODEL",
	Short: "Load a model into memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoad,
}

func runLoad(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var snap domain.ModelRuntimeSnapshot
	if err := c.postJSON("/api/models/"+url.PathEscape(args[0])+"/load", map[string]any{}, &snap); err != nil {
		return err
	}

	fmt.Printf("loaded %s (gpu=%s layers=%d ctx=%d batch=%d, %d ms)\n",
		snap.ModelID, snap.GPUType, snap.GPULayers, snap.ContextSize,
		snap.BatchSize, snap.LoadingTimeMS)
	return nil
}

var unloadCmd = &cobra.Command{
	Use:   "unload MODEL",
	Short: "Unload a model and free its memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnload,
}

func runUnload(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.postJSON("/api/models/"+url.PathEscape(args[0])+"/unload", nil, nil); err != nil {
		return err
	}
	fmt.Printf("unloaded %s\n", args[0])
	return nil
}
