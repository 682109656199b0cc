package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run MODEL [PROMPT]",
	Short: "Run a model and start an interactive chat",
	Long:  `Load a model and chat with it. With an inline prompt, answers once and exits.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	modelName := args[0]

	c, err := newClient()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "loading %s...\n", modelName)
	var snap domain.ModelRuntimeSnapshot
	if err := c.postJSON("/api/models/"+modelName+"/load", map[string]any{}, &snap); err != nil {
		return err
	}

	var history []domain.ChatMessage

	// Inline one-shot prompt
	if len(args) > 1 {
		history = append(history, domain.ChatMessage{Role: "user", Content: args[1]})
		_, err := streamChat(c, modelName, history)
		fmt.Println()
		return err
	}

	fmt.Println("Type a message (Ctrl+D to exit).")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}

		history = append(history, domain.ChatMessage{Role: "user", Content: prompt})
		reply, err := streamChat(c, modelName, history)
		fmt.Println()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			history = history[:len(history)-1]
			continue
		}
		history = append(history, domain.ChatMessage{Role: "assistant", Content: reply})
	}
}

// streamChat runs one streaming generation, printing tokens as they
// arrive, and returns the full reply.
func streamChat(c *client, model string, messages []domain.ChatMessage) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.http.Post(c.base+"/api/generate/stream", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("is the server running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeResponse(resp, nil)
	}

	var reply strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	errEvent := false

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "event: error"):
			errEvent = true
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return reply.String(), nil
			}
			if errEvent {
				var e struct {
					Error string `json:"error"`
				}
				if json.Unmarshal([]byte(data), &e) == nil && e.Error != "" {
					return reply.String(), fmt.Errorf("%s", e.Error)
				}
				return reply.String(), fmt.Errorf("generation failed")
			}
			var chunk struct {
				Content string `json:"content"`
			}
			if json.Unmarshal([]byte(data), &chunk) == nil {
				fmt.Print(chunk.Content)
				reply.WriteString(chunk.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return reply.String(), err
	}
	return reply.String(), nil
}
