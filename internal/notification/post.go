package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sendTimeout = 10 * time.Second

func newHTTPClient() *http.Client { return &http.Client{Timeout: sendTimeout} }

// postJSON sends v as a JSON body to url. A non-2xx reply is an error that
// quotes the start of the response body.
func postJSON(ctx context.Context, c *http.Client, url string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}
