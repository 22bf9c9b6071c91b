package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// PostJSON sends body as JSON and decodes the reply into out.
// Transport failures and undecodable replies come back as *GatewayError.
func PostJSON(ctx context.Context, client *http.Client, gateway, url string, headers map[string]string, body, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal %s request: %w", gateway, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, &GatewayError{Gateway: gateway, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, &GatewayError{Gateway: gateway, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, &GatewayError{Gateway: gateway, Message: "read response", Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, &GatewayError{
			Gateway: gateway,
			Message: fmt.Sprintf("unexpected response (HTTP %d)", resp.StatusCode),
			Err:     err,
		}
	}
	return resp.StatusCode, nil
}
