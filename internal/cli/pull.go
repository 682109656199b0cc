package cli

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

func init() {
	rootCmd.AddCommand(pullCmd)
}

var pullCmd = &cobra.Command{
	Use:   "pull MODEL",
	Short: "Download a model",
	Long:  `Pull a model by its catalog name (e.g. "llama3", "phi3"). Run 'mindstrike list' afterwards.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var started struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
	}
	if err := c.postJSON("/api/pull", map[string]string{"name": args[0]}, &started); err != nil {
		return err
	}

	fmt.Printf("pulling %s...\n", args[0])
	path := "/api/downloads/" + url.PathEscape(started.Filename)

	for {
		var p domain.DownloadProgress
		if err := c.getJSON(path, &p); err != nil {
			return err
		}

		renderProgress(p)
		switch p.Status {
		case "done":
			fmt.Fprintln(os.Stderr)
			fmt.Println("Done!")
			return nil
		case "failed":
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("download failed")
		case "cancelled":
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("download cancelled")
		}

		time.Sleep(500 * time.Millisecond)
	}
}

const barWidth = 30

// renderProgress draws a single-line progress bar on stderr:
//
//	==============>...............  48% | 1.2 GB / 2.4 GB
func renderProgress(p domain.DownloadProgress) {
	pct := p.Percent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(barWidth))
	var bar string
	switch {
	case filled >= barWidth:
		bar = strings.Repeat("=", barWidth)
	case filled > 0:
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", barWidth-filled)
	default:
		bar = strings.Repeat(".", barWidth)
	}

	fmt.Fprintf(os.Stderr, "\r\033[K  %s %3.0f%% | %s / %s",
		bar, pct, humanSize(p.BytesDone), humanSize(p.BytesTotal))
}
