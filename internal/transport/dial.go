package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	chatPath         = "/api/chat"
	defaultRegion    = "fr-srr"
	handshakeTimeout = 10 * time.Second
)

// ErrUnauthorized is returned when the service rejects the credential during the handshake.
var ErrUnauthorized = errors.New("invalid API key")

// Target selects the service to connect to. Host wins when set; otherwise the
// host is derived from DeploymentID and Region.
type Target struct {
	Host         string
	DeploymentID string
	Region       string
}

// Resolve returns the host name to dial.
func (t Target) Resolve() (string, error) {
	if t.Host != "" {
		return t.Host, nil
	}
	if t.DeploymentID == "" {
		return "", errors.New("either a host or a deployment ID is required")
	}
	region := t.Region
	if region == "" {
		region = defaultRegion
	}
	return fmt.Sprintf("%s.ifr.%s.scaleway.com", t.DeploymentID, region), nil
}

// Params are the generation controls forwarded to the service.
type Params struct {
	AudioTopK        int
	AudioTemperature float64
	TextTopK         int
	TextTemperature  float64
}

// DefaultParams returns the values the service is usually run with.
func DefaultParams() Params {
	return Params{
		AudioTopK:        250,
		AudioTemperature: 0.8,
		TextTopK:         25,
		TextTemperature:  0.7,
	}
}

func (p Params) query() url.Values {
	q := url.Values{}
	q.Set("audio_topk", strconv.Itoa(p.AudioTopK))
	q.Set("audio_temperature", strconv.FormatFloat(p.AudioTemperature, 'f', -1, 64))
	q.Set("text_topk", strconv.Itoa(p.TextTopK))
	q.Set("text_temperature", strconv.FormatFloat(p.TextTemperature, 'f', -1, 64))
	return q
}

// Options tune the connection itself.
type Options struct {
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Insecure disables certificate verification. Only for local testing.
	Insecure bool
	// HandshakeTimeout defaults to 10 seconds.
	HandshakeTimeout time.Duration
}

// ChatURL builds the websocket URL for host with p encoded as query parameters.
func ChatURL(host string, p Params) string {
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     chatPath,
		RawQuery: p.query().Encode(),
	}
	return u.String()
}

// Dial performs the websocket handshake and splits the connection into its
// two halves. Any failure is returned as is; there is no retry.
func Dial(ctx context.Context, target Target, params Params, opts Options) (*Sender, *Receiver, error) {
	host, err := target.Resolve()
	if err != nil {
		return nil, nil, err
	}

	timeout := opts.HandshakeTimeout
	if timeout == 0 {
		timeout = handshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	if opts.Insecure {
		slog.Warn("Certificate verification is disabled", "host", host)
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	header.Set("Host", host)
	if opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	u := ChatURL(host, params)
	slog.Info("Connecting", "url", u)

	conn, resp, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, nil, fmt.Errorf("failed to connect to %s: %w", host, ErrUnauthorized)
		}
		if resp != nil {
			return nil, nil, fmt.Errorf("failed to connect to %s: handshake returned %s: %w", host, resp.Status, err)
		}
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}

	slog.Info("Connected", "host", host)
	return NewSender(conn), NewReceiver(conn), nil
}
