package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List locally available models",
	RunE:    runList,
}

func runList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var resp struct {
		Models []domain.ModelDescriptor `json:"models"`
	}
	if err := c.getJSON("/api/models", &resp); err != nil {
		return err
	}

	if len(resp.Models) == 0 {
		fmt.Println("No models installed. Run 'mindstrike pull <model>' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tQUANTIZATION\tLAYERS\tCTX")
	for _, m := range resp.Models {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			m.ID, m.Name, humanSize(m.SizeBytes), m.Quantization,
			m.LayerCount, m.TrainedContextLength)
	}
	return w.Flush()
}
