package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// client is a minimal HTTP client for the daemon's API.
type client struct {
	base  string
	token string
	http  *http.Client
}

// newClient resolves the API endpoint and token from flags, environment,
// and config file, in that order. A missing config file is only fatal
// when the flags left a gap it would have filled.
func newClient() (*client, error) {
	base := flagServer
	token := flagToken
	if token == "" {
		token = os.Getenv("SHOWRUNNER_API_TOKEN")
	}

	if base == "" || token == "" {
		cfg, err := loadConfig()
		switch {
		case err != nil && base == "":
			return nil, fmt.Errorf("no --server given and %w", err)
		case err == nil:
			if base == "" {
				host := cfg.API.Host
				// The daemon binds all interfaces; the client needs one.
				if host == "" || host == "0.0.0.0" {
					host = "127.0.0.1"
				}
				base = fmt.Sprintf("http://%s:%d", host, cfg.API.Port)
			}
			if token == "" {
				token = cfg.API.AuthToken
			}
		}
	}

	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *client) get(path string, out any) error {
	return c.do(http.MethodGet, path, "", nil, out)
}

func (c *client) post(path, contentType string, body []byte, out any) error {
	return c.do(http.MethodPost, path, contentType, body, out)
}

func (c *client) do(method, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
