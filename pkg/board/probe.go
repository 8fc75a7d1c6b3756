package board

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kernel/boardcol/pkg/credentials"
)

// ProbeResult is the outcome of a single unpaginated request. Body holds the
// decoded JSON on success and the raw text otherwise.
type ProbeResult struct {
	Endpoint string `json:"endpoint"`
	OK       bool   `json:"ok"`
	Status   int    `json:"status"`
	Body     any    `json:"body"`
}

// Probe issues one GET against endpoint without pagination parameters. It is
// a diagnostic: HTTP failures are reported in the result, and only transport
// errors are returned. Empty credentials are sent as-is so the API's own
// rejection is visible.
func (c *Client) Probe(ctx context.Context, creds credentials.Credentials, endpoint string) (ProbeResult, error) {
	res := ProbeResult{Endpoint: endpoint}

	hc := c.httpClient
	if creds.APIToken != "" {
		hc = c.authorizedClient(creds)
	}
	body, status, err := c.get(ctx, hc, creds, endpoint, 0)
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		res.Status = apiErr.Status
		res.Body = string(body)
		return res, nil
	case err != nil:
		return res, err
	}

	res.OK = true
	res.Status = status
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		res.Body = string(body)
		return res, nil
	}
	res.Body = decoded
	return res, nil
}
