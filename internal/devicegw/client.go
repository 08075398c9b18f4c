package devicegw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// ErrDeviceUnknown is returned when the gateway does not know the device.
var ErrDeviceUnknown = errors.New("devicegw: device unknown")

// Client is a minimal REST client for the field gateway that fronts the
// device fleet.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient constructs a gateway client.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("devicegw: empty base url")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: requestTimeout},
	}, nil
}

// CommandResponse is the gateway's answer to a pushed command.
type CommandResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// SendCommand pushes a command to a device. The gateway answers
// synchronously with acked, failed or sent; sent means the device will
// confirm later through the result callback.
func (c *Client) SendCommand(ctx context.Context, deviceID, name string, params json.RawMessage) (CommandResponse, error) {
	if deviceID == "" || name == "" {
		return CommandResponse{}, errors.New("devicegw: invalid command args")
	}
	payload, err := json.Marshal(map[string]any{"name": name, "params": params})
	if err != nil {
		return CommandResponse{}, err
	}

	url := c.baseURL + "/gateway/v1/devices/" + deviceID + "/commands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return CommandResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return CommandResponse{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return CommandResponse{}, ErrDeviceUnknown
	case resp.StatusCode >= 300:
		return CommandResponse{}, fmt.Errorf("devicegw: http %d", resp.StatusCode)
	}

	var answer CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return CommandResponse{}, fmt.Errorf("devicegw: decode response: %w", err)
	}
	return answer, nil
}
