// Package telegram is a minimal Telegram Bot API client used for optional
// join notifications and avatar lookups when the relay fronts a Telegram
// Mini App. The relay works fully without it.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultAPIBaseURL = "https://api.telegram.org"

type Config struct {
	// BotToken enables the client; empty means every call is a no-op.
	BotToken string

	// APIBaseURL overrides the Bot API host, for tests and proxies.
	APIBaseURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	token   string
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func New(cfg Config) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		token:   cfg.BotToken,
		baseURL: baseURL,
		http:    httpClient,
		log:     log,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.token != ""
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, query url.Values, body any, result any) error {
	if !c.Enabled() {
		return nil
	}

	endpoint := c.baseURL + "/bot" + c.token + "/" + method
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var req *http.Request
	var err error
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("telegram: encode %s request: %w", method, merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}
	if err != nil {
		return fmt.Errorf("telegram: build %s request: %w", method, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: %s returned status %d", method, resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram: %s returned ok=false", method)
	}
	if result != nil {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// SendMessage posts an HTML-formatted message to a chat.
// https://core.telegram.org/bots/api#sendmessage
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", nil, map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
}

// NotifyJoined tells a user their room join went through.
func (c *Client) NotifyJoined(ctx context.Context, chatID int64, displayName, roomID string) error {
	text := fmt.Sprintf("🎙 <b>You joined a voice chat</b>\n\nRoom: <code>%s</code>\nName: %s", roomID, displayName)
	return c.SendMessage(ctx, chatID, text)
}

// ProfilePhotoFileID returns the file id of the user's most recent profile
// photo, or ok=false when the user has none.
// https://core.telegram.org/bots/api#getuserprofilephotos
func (c *Client) ProfilePhotoFileID(ctx context.Context, userID int64) (fileID string, ok bool, err error) {
	if !c.Enabled() {
		return "", false, nil
	}

	var result struct {
		TotalCount int `json:"total_count"`
		Photos     [][]struct {
			FileID string `json:"file_id"`
		} `json:"photos"`
	}
	query := url.Values{
		"user_id": {strconv.FormatInt(userID, 10)},
		"limit":   {"1"},
	}
	if err := c.call(ctx, "getUserProfilePhotos", query, nil, &result); err != nil {
		return "", false, err
	}
	if result.TotalCount == 0 || len(result.Photos) == 0 || len(result.Photos[0]) == 0 {
		return "", false, nil
	}
	// Sizes are ordered smallest to largest; take the largest.
	sizes := result.Photos[0]
	return sizes[len(sizes)-1].FileID, true, nil
}

// FileURL resolves a file id to a download URL.
// https://core.telegram.org/bots/api#getfile
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	var result struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", url.Values{"file_id": {fileID}}, nil, &result); err != nil {
		return "", err
	}
	if result.FilePath == "" {
		return "", fmt.Errorf("telegram: getFile returned empty file_path")
	}
	return c.baseURL + "/file/bot" + c.token + "/" + result.FilePath, nil
}
