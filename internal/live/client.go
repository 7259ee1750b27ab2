package live

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/yzbtdiy/VtuberAgent/internal/errors"
	"github.com/yzbtdiy/VtuberAgent/internal/metrics"
)

const (
	defaultBaseURL = "https://live-open.biliapi.com"
	requestTimeout = 10 * time.Second
)

// Credentials are the open-platform project credentials. Read-only for the
// lifetime of a session.
type Credentials struct {
	AccessKey    string
	AccessSecret string
	AppID        int64
}

// Client issues the three signed lifecycle calls (start/heartbeat/end)
// against the open platform. It is stateless aside from connection pooling
// and safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	creds   Credentials
	clock   clockwork.Clock
	nonce   func() string
}

// NewClient creates a Client. host overrides the production API host when
// non-empty.
func NewClient(creds Credentials, host string, clock clockwork.Clock) *Client {
	baseURL := defaultBaseURL
	if host != "" {
		baseURL = host
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: baseURL,
		creds:   creds,
		clock:   clock,
		nonce:   func() string { return uuid.NewString() },
	}
}

type startRequest struct {
	Code  string `json:"code"`
	AppID int64  `json:"app_id"`
}

type heartbeatRequest struct {
	GameID string `json:"game_id"`
}

type endRequest struct {
	AppID  int64  `json:"app_id"`
	GameID string `json:"game_id"`
}

// StartData is the payload of a successful start call.
type StartData struct {
	GameInfo      GameInfo      `json:"game_info"`
	WebsocketInfo WebsocketInfo `json:"websocket_info"`
	AnchorInfo    AnchorInfo    `json:"anchor_info"`
}

type GameInfo struct {
	GameID string `json:"game_id"`
}

type WebsocketInfo struct {
	AuthBody string   `json:"auth_body"`
	WssLink  []string `json:"wss_link"`
}

type AnchorInfo struct {
	RoomID int64  `json:"room_id"`
	Uname  string `json:"uname"`
	OpenID string `json:"open_id"`
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Start registers a new session for the room bound to the identity code.
// A non-zero upstream code is fatal: no session is created.
func (c *Client) Start(ctx context.Context, identityCode string) (*StartData, error) {
	body, err := json.Marshal(startRequest{Code: identityCode, AppID: c.creds.AppID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start request: %w", err)
	}

	envelope, err := c.post(ctx, "/v2/app/start", "start", body)
	if err != nil {
		return nil, err
	}
	if envelope.Code != 0 {
		return nil, errors.APIError(
			fmt.Sprintf("start rejected by open platform: %s", envelope.Message),
			envelope.Code,
		)
	}

	var data StartData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, errors.APIError("start returned malformed data", envelope.Code).
			WithContext("cause", err.Error())
	}
	return &data, nil
}

// Heartbeat keeps the session alive at the REST level. A non-zero upstream
// code is logged and absorbed: the upstream timeout is the backstop for a
// truly dead session.
func (c *Client) Heartbeat(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(heartbeatRequest{GameID: sessionID})
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat request: %w", err)
	}

	envelope, err := c.post(ctx, "/v2/app/heartbeat", "heartbeat", body)
	if err != nil {
		return err
	}
	if envelope.Code != 0 {
		slog.Warn("Open platform heartbeat rejected",
			"code", envelope.Code,
			"message", envelope.Message,
		)
	}
	return nil
}

// End tears down the session. Best effort: a non-zero upstream code is logged
// and absorbed.
func (c *Client) End(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(endRequest{AppID: c.creds.AppID, GameID: sessionID})
	if err != nil {
		return fmt.Errorf("failed to marshal end request: %w", err)
	}

	envelope, err := c.post(ctx, "/v2/app/end", "end", body)
	if err != nil {
		return err
	}
	if envelope.Code != 0 {
		slog.Warn("Open platform end rejected",
			"code", envelope.Code,
			"message", envelope.Message,
		)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, endpoint string, body []byte) (*apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	c.signRequest(req.Header, body)

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(c.clock.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, errors.APIError(fmt.Sprintf("%s call failed", endpoint), -1).
			WithContext("cause", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, errors.APIError(
			fmt.Sprintf("%s returned HTTP %d", endpoint, resp.StatusCode), -1,
		)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, errors.APIError(fmt.Sprintf("failed to read %s response", endpoint), -1).
			WithContext("cause", err.Error())
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, errors.APIError(fmt.Sprintf("%s returned malformed envelope", endpoint), -1).
			WithContext("cause", err.Error())
	}

	metrics.APIRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return &envelope, nil
}

// signRequest sets the five x-bili headers and the Authorization signature
// for the exact request body bytes.
func (c *Client) signRequest(header http.Header, body []byte) {
	sum := md5.Sum(body)
	contentMD5 := hex.EncodeToString(sum[:])
	nonce := c.nonce()
	timestamp := c.clock.Now().Unix()

	header.Set("Accept", "application/json")
	header.Set("Content-Type", "application/json")
	header.Set("x-bili-accesskeyid", c.creds.AccessKey)
	header.Set("x-bili-content-md5", contentMD5)
	header.Set("x-bili-signature-method", "HMAC-SHA256")
	header.Set("x-bili-signature-nonce", nonce)
	header.Set("x-bili-signature-version", "1.0")
	header.Set("x-bili-timestamp", fmt.Sprintf("%d", timestamp))
	header.Set("Authorization", sign(c.creds.AccessKey, c.creds.AccessSecret, contentMD5, nonce, timestamp))
}

// sign computes the hex HMAC-SHA256 signature over the canonical header
// string. Field order and key names must match the upstream contract exactly.
func sign(accessKey, accessSecret, contentMD5, nonce string, timestamp int64) string {
	canonical := fmt.Sprintf(
		"x-bili-accesskeyid:%s\nx-bili-content-md5:%s\nx-bili-signature-method:HMAC-SHA256\nx-bili-signature-nonce:%s\nx-bili-signature-version:1.0\nx-bili-timestamp:%d",
		accessKey, contentMD5, nonce, timestamp,
	)

	mac := hmac.New(sha256.New, []byte(accessSecret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
