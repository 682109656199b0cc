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
	rootCmd.AddCommand(psCmd)
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List models currently loaded in memory",
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var listResp struct {
		Models []domain.ModelDescriptor `json:"models"`
	}
	if err := c.getJSON("/api/models", &listResp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGPU\tCTX\tLAYERS\tBATCH\tLOADED\tTHREADS")
	found := 0
	for _, m := range listResp.Models {
		var snap domain.ModelRuntimeSnapshot
		if err := c.getJSON("/api/models/"+url.PathEscape(m.ID)+"/runtime", &snap); err != nil {
			continue
		}
		if snap.ModelID == "" {
			continue // not loaded
		}
		found++
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%d\n",
			snap.ModelID, snap.GPUType, snap.ContextSize, snap.GPULayers,
			snap.BatchSize, snap.LoadedAt.Format("15:04:05"), len(snap.ThreadIDs))
	}

	if found == 0 {
		fmt.Println("No models currently loaded.")
		return nil
	}
	return w.Flush()
}
