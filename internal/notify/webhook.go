package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// senderTimeout bounds one delivery attempt.
const senderTimeout = 10 * time.Second

// postJSON sends payload to url and treats any 2xx as delivered. The error
// carries the start of the response body, which is where chat APIs put
// their reason.
func postJSON(ctx context.Context, client *http.Client, service, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode message: %w", service, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: deliver: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	reason, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if wait := resp.Header.Get("Retry-After"); wait != "" {
		return fmt.Errorf("%s: unexpected status %d (retry after %ss): %s", service, resp.StatusCode, wait, reason)
	}
	return fmt.Errorf("%s: unexpected status %d: %s", service, resp.StatusCode, reason)
}
