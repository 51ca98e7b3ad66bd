// Package hubclient talks to the hub's device registration and event
// ingestion endpoints.
package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	HeaderInternalAuth = "X-Internal-Auth"
	HeaderDeviceID     = "X-Device-ID"
)

// StatusError is returned when the hub answered with a non-success status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hub returned %d", e.Code)
	}
	return fmt.Sprintf("hub returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) HTTPStatus() int { return e.Code }

type registerRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type Registration struct {
	APIKey   string `json:"api_key"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type errorBody struct {
	Error string `json:"error"`
}

type Client struct {
	HTTP          *resty.Client
	internalToken string
}

// New builds a client for the hub at baseURL. timeout bounds each request.
func New(baseURL string, timeout time.Duration, internalToken string) *Client {
	r := resty.New()
	r.SetBaseURL(strings.TrimRight(baseURL, "/"))
	r.SetHeader("Accept", "application/json")
	if timeout > 0 {
		r.SetTimeout(timeout)
	}
	return &Client{HTTP: r, internalToken: internalToken}
}

// Register obtains the API key for deviceID. A hub that already knows the
// device answers 200 with the existing key; older hubs answer 409 with it.
func (c *Client) Register(ctx context.Context, deviceID, name string) (Registration, error) {
	var reg Registration
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderInternalAuth, c.internalToken).
		SetBody(registerRequest{DeviceID: deviceID, Name: name}).
		SetResult(&reg).
		SetError(&errorBody{}).
		Post("/devices")
	if err != nil {
		return Registration{}, fmt.Errorf("register device: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		// resty only decodes the result for 2xx.
		if err := json.Unmarshal(resp.Body(), &reg); err != nil {
			return Registration{}, fmt.Errorf("register device: decode conflict body: %w", err)
		}
	default:
		return Registration{}, statusError(resp)
	}
	if reg.APIKey == "" {
		return Registration{}, errors.New("register device: hub returned no api_key")
	}
	return reg, nil
}

// SendEvent posts one sealed envelope for deviceID.
func (c *Client) SendEvent(ctx context.Context, deviceID, envelope string) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetHeader(HeaderDeviceID, deviceID).
		SetBody(envelope).
		SetError(&errorBody{}).
		Post("/events")
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *resty.Response) *StatusError {
	msg := ""
	if e, ok := resp.Error().(*errorBody); ok && e != nil {
		msg = e.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	return &StatusError{Code: resp.StatusCode(), Message: msg}
}
