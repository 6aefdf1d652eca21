// Package telegram implements the minimal Bot API surface the pipeline
// needs: sendDocument for uploads and getFile for URL resolution.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultBaseURL = "https://api.telegram.org"

// Upload calls accommodate large payloads; getFile is a small JSON exchange.
const (
	uploadTimeout   = 60 * time.Second
	requestTimeout  = 30 * time.Second
	connectTimeout  = 5 * time.Second
	getFileRetryMax = 2
)

// RateLimitedError is returned when the upstream answers 429. RetryAfter
// carries the advertised delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("telegram: rate limited, retry after %s", e.RetryAfter)
}

// StatusError is a non-429 upstream rejection.
type StatusError struct {
	Code        int
	Description string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telegram: api error %d: %s", e.Code, e.Description)
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Client talks to the Bot API. One client serves all bot tokens; the token
// is part of each request path.
type Client struct {
	baseURL      string
	uploadClient *http.Client
	queryClient  *retryablehttp.Client
}

// New creates a client against the public Bot API endpoint.
func New() *Client {
	return NewWithBaseURL(defaultBaseURL)
}

// NewWithBaseURL creates a client against a custom endpoint. Used by tests.
func NewWithBaseURL(baseURL string) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}

	queryClient := retryablehttp.NewClient()
	queryClient.RetryMax = getFileRetryMax
	queryClient.Logger = nil
	queryClient.HTTPClient = &http.Client{
		Timeout:   requestTimeout,
		Transport: &http.Transport{DialContext: dialer.DialContext},
	}

	return &Client{
		baseURL: baseURL,
		uploadClient: &http.Client{
			Timeout:   uploadTimeout,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
		queryClient: queryClient,
	}
}

// SendDocument uploads a document to the chat with the given caption and
// returns the resulting message id and the document's file id.
func (c *Client) SendDocument(ctx context.Context, token string, chatID int64, doc io.Reader, filename, caption string) (msgID int64, fileID string, err error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		werr := writeDocumentForm(mw, chatID, doc, filename, caption)
		if cerr := mw.Close(); werr == nil {
			werr = cerr
		}
		pw.CloseWithError(werr)
	}()

	endpoint := fmt.Sprintf("%s/bot%s/sendDocument", c.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return 0, "", fmt.Errorf("telegram: failed to build sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("telegram: sendDocument request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		MessageID int64 `json:"message_id"`
		Document  struct {
			FileID string `json:"file_id"`
		} `json:"document"`
	}
	if err := decodeAPIResponse(resp, &result); err != nil {
		return 0, "", err
	}
	return result.MessageID, result.Document.FileID, nil
}

func writeDocumentForm(mw *multipart.Writer, chatID int64, doc io.Reader, filename, caption string) error {
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, doc)
	return err
}

// GetFile materializes the upstream path for a stored file id.
func (c *Client) GetFile(ctx context.Context, token, fileID string) (filePath string, err error) {
	endpoint := fmt.Sprintf("%s/bot%s/getFile?%s", c.baseURL, token,
		url.Values{"file_id": {fileID}}.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("telegram: failed to build getFile request: %w", err)
	}

	resp, err := c.queryClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram: getFile request failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		FilePath string `json:"file_path"`
	}
	if err := decodeAPIResponse(resp, &result); err != nil {
		return "", err
	}
	if result.FilePath == "" {
		return "", &StatusError{Code: resp.StatusCode, Description: "empty file_path"}
	}
	return result.FilePath, nil
}

// FileURL composes the time-limited absolute download URL for a path
// returned by GetFile.
func (c *Client) FileURL(token, filePath string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, token, filePath)
}

// decodeAPIResponse unwraps the Bot API envelope, mapping 429 to
// RateLimitedError and other failures to StatusError.
func decodeAPIResponse(resp *http.Response, result any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: failed to read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("telegram: malformed response (status %d): %w", resp.StatusCode, err)
	}

	if !envelope.OK {
		if envelope.ErrorCode == http.StatusTooManyRequests {
			retryAfter := time.Second
			if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
				retryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
			}
			return &RateLimitedError{RetryAfter: retryAfter}
		}
		code := envelope.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &StatusError{Code: code, Description: envelope.Description}
	}

	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("telegram: malformed result payload: %w", err)
	}
	return nil
}
