package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sengac/mindstrike-sub006/internal/daemon"
)

// client is a thin HTTP client against the running daemon.
type client struct {
	base string
	http *http.Client
}

// newClient builds a client from the configured API address.
func newClient() (*client, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &client{
		base: fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port),
		http: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// getJSON issues a GET and decodes the response into out.
func (c *client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("is the server running? (%w)", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// postJSON issues a POST with a JSON body and decodes the response.
func (c *client) postJSON(path string, body, out any) error {
	return c.doJSON(http.MethodPost, path, body, out)
}

// putJSON issues a PUT with a JSON body and decodes the response.
func (c *client) putJSON(path string, body, out any) error {
	return c.doJSON(http.MethodPut, path, body, out)
}

// delete issues a DELETE and decodes the response.
func (c *client) delete(path string, out any) error {
	return c.doJSON(http.MethodDelete, path, nil, out)
}

func (c *client) doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the server running? (%w)", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s", apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// humanSize renders a byte count as B/KB/MB/GB.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
