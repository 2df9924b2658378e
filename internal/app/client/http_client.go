package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"tether/internal/app/client/config"
	syncdomain "tether/internal/domain/sync"
	"tether/internal/domain/table"
)

const (
	apiPrefix        = "/api/v1"
	userAgent        = "tether-client/1.0"
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 10 * time.Second
)

// TokenSource отдает текущий bearer токен, пустая строка означает его отсутствие
type TokenSource interface {
	Token() string
}

// HTTPError ответ сервера с кодом 4xx/5xx
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ошибка сервера: статус %d", e.StatusCode)
	}
	return fmt.Sprintf("ошибка сервера: статус %d: %s", e.StatusCode, e.Message)
}

// Unwrap сводит коды ответа к доменным ошибкам синхронизации
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusPreconditionFailed:
		return syncdomain.ErrPreconditionFailed
	case http.StatusNotFound:
		return syncdomain.ErrRemoteNotFound
	case http.StatusUnauthorized:
		return syncdomain.ErrNotAuthenticated
	default:
		return nil
	}
}

// RemoteClient реализует RemoteStore поверх JSON API сервера
type RemoteClient struct {
	client     *http.Client
	tokens     TokenSource
	log        *slog.Logger
	baseURL    string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var _ syncdomain.RemoteStore = (*RemoteClient)(nil)

func NewRemoteClient(cfg *config.Config, tokens TokenSource, log *slog.Logger) *RemoteClient {
	return newRemoteClient(cfg.BaseURL(), tokens, cfg.HTTPRetry, log)
}

func newRemoteClient(baseURL string, tokens TokenSource, maxRetries int, log *slog.Logger) *RemoteClient {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &RemoteClient{
		client:     client,
		tokens:     tokens,
		log:        log.With("component", "remote"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: maxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
}

// BaseURL адрес сервера без завершающего слэша
func (c *RemoteClient) BaseURL() string {
	return c.baseURL
}

// HealthCheck проверяет доступность сервера одним запросом, без повторов
func (c *RemoteClient) HealthCheck(ctx context.Context) error {
	return c.send(ctx, http.MethodGet, apiPrefix+"/health", nil, nil, 0)
}

func (c *RemoteClient) Insert(ctx context.Context, name table.Name, row table.Row) (table.Row, error) {
	var out table.Row
	if err := c.do(ctx, http.MethodPost, rowsPath(name), row, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type updateRequest struct {
	BaseUpdatedAt time.Time `json:"base_updated_at"`
	Patch         table.Row `json:"patch"`
}

func (c *RemoteClient) UpdateIf(ctx context.Context, name table.Name, id string, base time.Time, patch table.Row) (table.Row, error) {
	req := updateRequest{BaseUpdatedAt: base, Patch: patch}

	var out table.Row
	if err := c.do(ctx, http.MethodPatch, rowPath(name, id), req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RemoteClient) Fetch(ctx context.Context, name table.Name, id string) (table.Row, error) {
	var out table.Row
	if err := c.do(ctx, http.MethodGet, rowPath(name, id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RemoteClient) FetchTable(ctx context.Context, name table.Name, after string, limit int) ([]table.Row, error) {
	q := url.Values{}
	if after != "" {
		q.Set("after", after)
	}
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Rows []table.Row `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, rowsPath(name)+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

func (c *RemoteClient) ChangesSince(ctx context.Context, seq int64, limit int) ([]syncdomain.ChangeLogEntry, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(seq, 10))
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Changes []syncdomain.ChangeLogEntry `json:"changes"`
	}
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/changes?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Changes, nil
}

func (c *RemoteClient) MaxSeq(ctx context.Context) (int64, error) {
	var out struct {
		MaxSeq int64 `json:"max_seq"`
	}
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/changes/max-seq", nil, &out); err != nil {
		return 0, err
	}
	return out.MaxSeq, nil
}

func rowsPath(name table.Name) string {
	return apiPrefix + "/tables/" + url.PathEscape(string(name)) + "/rows"
}

func rowPath(name table.Name, id string) string {
	return rowsPath(name) + "/" + url.PathEscape(id)
}

func (c *RemoteClient) do(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, method, path, body, out, c.maxRetries)
}

// send выполняет запрос, повторяя его при сетевых ошибках, 429 и 5xx
func (c *RemoteClient) send(ctx context.Context, method, path string, body, out any, retries int) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ошибка маршалинга тела запроса: %w", err)
		}
		payload = data
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.doRequest(ctx, method, path, payload)
		if err != nil {
			if ctx.Err() != nil || attempt >= retries {
				return err
			}
			c.log.Debug("Повтор запроса после сетевой ошибки", "method", method, "path", path, "attempt", attempt+1, "error", err)
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
				return waitErr
			}
			continue
		}

		if retryable(resp.StatusCode) && attempt < retries {
			retryAfter := resp.Header.Get("Retry-After")
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			c.log.Debug("Повтор запроса", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt+1)
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, retryAfter)); waitErr != nil {
				return waitErr
			}
			continue
		}

		return c.parseResponse(resp, out)
	}
}

func (c *RemoteClient) doRequest(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	return resp, nil
}

func (c *RemoteClient) parseResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("ошибка парсинга ответа: %w", err)
		}
	}
	return nil
}

// errorMessage достает описание ошибки из problem+json ответа
func errorMessage(body []byte) string {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &problem); err != nil {
		return strings.TrimSpace(string(body))
	}
	switch {
	case problem.Detail != "":
		return problem.Detail
	case problem.Error != "":
		return problem.Error
	default:
		return problem.Title
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *RemoteClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		return time.Until(at)
	}
	return 0
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsOffline сообщает, что ошибка вызвана недоступностью сервера, а не его ответом
func IsOffline(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
