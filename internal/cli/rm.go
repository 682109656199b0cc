package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(rmCmd)
}

var rmCmd = &cobra.Command{
	Use:     "rm MODEL",
	Aliases: []string{"remove"},
	Short:   "Delete a model from disk",
	Args:    cobra.ExactArgs(1),
	RunE:    runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.delete("/api/models/"+url.PathEscape(args[0]), nil); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}
