package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/nugget/tralfaz/internal/httpkit"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// DefaultPollTimeout is the long-poll wait passed to getUpdates.
	DefaultPollTimeout = 30 * time.Second

	// maxMessageLen is the Bot API limit for one text message, in
	// UTF-16 code units.
	maxMessageLen = 4096

	// maxDownload bounds voice note downloads. The Bot API itself
	// refuses files over 20 MB.
	maxDownload = 20 << 20

	pollBackoffMin = time.Second
	pollBackoffMax = time.Minute
)

// ClientConfig configures a [Client].
type ClientConfig struct {
	Token       string
	BaseURL     string
	PollTimeout time.Duration
}

// Client speaks the Telegram Bot API over HTTPS. It satisfies the
// scheduler's gateway interface; owners are chat IDs in decimal.
type Client struct {
	token       string
	baseURL     string
	pollTimeout time.Duration
	http        *http.Client
	poll        *http.Client
	logger      *slog.Logger
}

// NewClient creates a Bot API client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}

	// Long polls hold the response headers for up to pollTimeout.
	pt := httpkit.NewTransport()
	pt.ResponseHeaderTimeout = pollTimeout + 10*time.Second

	return &Client{
		token:       cfg.Token,
		baseURL:     base,
		pollTimeout: pollTimeout,
		http:        httpkit.NewClient(httpkit.WithRetry(2, time.Second), httpkit.WithLogger(logger)),
		poll: httpkit.NewClient(
			httpkit.WithTimeout(pollTimeout+15*time.Second),
			httpkit.WithTransport(pt),
		),
		logger: logger.With("component", "telegram"),
	}
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// call posts a JSON request and decodes the result into out, which may
// be nil.
func (c *Client) call(ctx context.Context, hc *http.Client, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(hc, req, method, out)
}

func (c *Client) do(hc *http.Client, req *http.Request, method string, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, stripURL(err))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("telegram %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

// GetUpdates long-polls for message updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, c.poll, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(c.pollTimeout / time.Second),
		"allowed_updates": []string{"message"},
	}, &updates)
	return updates, err
}

// Updates polls until ctx is done and delivers each update on the
// returned channel, which is closed on exit. Poll errors back off
// exponentially up to a minute.
func (c *Client) Updates(ctx context.Context) <-chan Update {
	ch := make(chan Update, 16)
	go func() {
		defer close(ch)
		var offset int64
		backoff := pollBackoffMin
		for {
			updates, err := c.GetUpdates(ctx, offset)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				wait := backoff
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
					wait = time.Duration(apiErr.RetryAfter) * time.Second
				}
				c.logger.Warn("telegram poll failed", "error", err, "retry_in", wait)
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				backoff = min(backoff*2, pollBackoffMax)
				continue
			}
			backoff = pollBackoffMin

			for _, u := range updates {
				if u.UpdateID >= offset {
					offset = u.UpdateID + 1
				}
				select {
				case ch <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

func parseChatID(owner string) (int64, error) {
	id, err := strconv.ParseInt(owner, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", owner, err)
	}
	return id, nil
}

// SendText sends text to the owner's chat, split into several messages
// when it exceeds the Bot API length limit.
func (c *Client) SendText(ctx context.Context, owner, text string) error {
	chatID, err := parseChatID(owner)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(text, maxMessageLen) {
		if err := c.call(ctx, c.http, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    part,
		}, nil); err != nil {
			return err
		}
	}
	c.logger.Debug("message sent", "chat_id", chatID, "len", len(text))
	return nil
}

// SendVoice uploads audio (Opus in Ogg) as a voice note.
func (c *Client) SendVoice(ctx context.Context, owner string, audio []byte) error {
	chatID, err := parseChatID(owner)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("build voice upload: %w", err)
	}
	fw, err := mw.CreateFormFile("voice", "reply.ogg")
	if err != nil {
		return fmt.Errorf("build voice upload: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return fmt.Errorf("build voice upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build voice upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendVoice"), &buf)
	if err != nil {
		return fmt.Errorf("create sendVoice request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.do(c.http, req, "sendVoice", nil); err != nil {
		return err
	}
	c.logger.Debug("voice sent", "chat_id", chatID, "bytes", len(audio))
	return nil
}

// SendTyping shows the typing indicator in the owner's chat. Telegram
// clears it after five seconds or on the next message.
func (c *Client) SendTyping(ctx context.Context, owner string) error {
	chatID, err := parseChatID(owner)
	if err != nil {
		return err
	}
	return c.call(ctx, c.http, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

// GetFile resolves a file ID to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.call(ctx, c.http, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile: no path for %s", fileID)
	}
	return &f, nil
}

// DownloadFile fetches the content of a file by ID.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	fileURL := c.baseURL + "/file/bot" + c.token + "/" + f.FilePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.FilePath, stripURL(err))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", f.FilePath, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.FilePath, err)
	}
	if len(data) > maxDownload {
		return nil, fmt.Errorf("download %s: file exceeds %d bytes", f.FilePath, maxDownload)
	}
	return data, nil
}

// stripURL removes the request URL from transport errors. The bot
// token is part of every URL.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// splitMessage breaks text into chunks of at most limit UTF-16 code
// units, preferring to cut at a newline in the back half of a chunk.
// Surrogate pairs are never split.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if utf16Len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for utf16Len(runes) > limit {
		cut, used, newline := 0, 0, 0
		for cut < len(runes) {
			n := utf16.RuneLen(runes[cut])
			if used+n > limit {
				break
			}
			used += n
			cut++
			if runes[cut-1] == '\n' && used > limit/2 {
				newline = cut
			}
		}
		if newline > 0 {
			cut = newline
		}
		if cut == 0 {
			cut = 1
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func utf16Len(runes []rune) int {
	n := 0
	for _, r := range runes {
		n += utf16.RuneLen(r)
	}
	return n
}
