// Package remote: клиент REST-коллекций (list/get/create/update/patch/delete/bulk).
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crmconsole/internal/schema"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound: 404 от коллекции.
var ErrNotFound = errors.New("remote: record not found")

// StatusError: ответ коллекции с кодом не 2xx.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client ходит в коллекции по соглашениям GET/POST/PUT/PATCH/DELETE.
type Client struct {
	base    string
	http    *http.Client
	log     *zap.Logger
	headers http.Header
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l *zap.Logger) Option      { return func(c *Client) { c.log = l } }
func WithTimeout(d time.Duration) Option   { return func(c *Client) { c.http.Timeout = d } }

// WithHeader добавляет заголовок ко всем запросам (например, токен сессии).
func WithHeader(k, v string) Option { return func(c *Client) { c.headers.Set(k, v) } }

func New(base string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     zap.NewNop(),
		headers: http.Header{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) url(endpoint string, id string, params url.Values) string {
	u := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		u = c.base + "/" + strings.TrimLeft(endpoint, "/")
	}
	if id != "" {
		u = strings.TrimRight(u, "/") + "/" + url.PathEscape(id)
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + params.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, u string, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("remote request failed", zap.String("method", method), zap.String("url", u), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("remote request",
		zap.String("method", method),
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, URL: u, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

// errorMessage достаёт {"error": "..."} из тела ошибки, иначе: тело целиком (обрезанное).
func errorMessage(data []byte) string {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		if s, ok := m["error"].(string); ok {
			return s
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// List: GET {endpoint}?{params}. Ответ: массив или {data|items|results:[...]}.
func (c *Client) List(ctx context.Context, endpoint string, params url.Values) ([]schema.Record, error) {
	data, err := c.do(ctx, http.MethodGet, c.url(endpoint, "", params), nil)
	if err != nil {
		return nil, err
	}
	return DecodeList(data)
}

// Get: GET {endpoint}/{id}.
func (c *Client) Get(ctx context.Context, endpoint, id string) (schema.Record, error) {
	data, err := c.do(ctx, http.MethodGet, c.url(endpoint, id, nil), nil)
	if err != nil {
		return nil, err
	}
	return decodeOne(data)
}

// Create: POST {endpoint}.
func (c *Client) Create(ctx context.Context, endpoint string, rec schema.Record) (schema.Record, error) {
	data, err := c.do(ctx, http.MethodPost, c.url(endpoint, "", nil), rec)
	if err != nil {
		return nil, err
	}
	return decodeOne(data)
}

// Update: PUT {endpoint}/{id}.
func (c *Client) Update(ctx context.Context, endpoint, id string, rec schema.Record) (schema.Record, error) {
	data, err := c.do(ctx, http.MethodPut, c.url(endpoint, id, nil), rec)
	if err != nil {
		return nil, err
	}
	return decodeOne(data)
}

// Patch: PATCH {endpoint}/{id}, частичное обновление, смена статуса.
func (c *Client) Patch(ctx context.Context, endpoint, id string, patch schema.Record) (schema.Record, error) {
	data, err := c.do(ctx, http.MethodPatch, c.url(endpoint, id, nil), patch)
	if err != nil {
		return nil, err
	}
	return decodeOne(data)
}

// Delete: DELETE {endpoint}/{id}.
func (c *Client) Delete(ctx context.Context, endpoint, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.url(endpoint, id, nil), nil)
	return err
}

type bulkRequest struct {
	IDs    []string `json:"ids"`
	Action string   `json:"action"`
}

// Bulk: POST {bulkEndpoint} с {ids, action}.
func (c *Client) Bulk(ctx context.Context, endpoint string, ids []string, action string) error {
	_, err := c.do(ctx, http.MethodPost, c.url(endpoint, "", nil), bulkRequest{IDs: ids, Action: action})
	return err
}

var envelopeKeys = []string{"data", "items", "results"}

// DecodeList разбирает тело списка: голый массив либо конверт.
func DecodeList(data []byte) ([]schema.Record, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	switch t := raw.(type) {
	case []any:
		return toRecords(t), nil
	case map[string]any:
		for _, k := range envelopeKeys {
			if arr, ok := t[k].([]any); ok {
				return toRecords(arr), nil
			}
		}
		return nil, errors.New("decode list: object without data|items|results array")
	case nil:
		return []schema.Record{}, nil
	}
	return nil, fmt.Errorf("decode list: unexpected %T", raw)
}

func toRecords(arr []any) []schema.Record {
	out := make([]schema.Record, 0, len(arr))
	for _, it := range arr {
		if m, ok := it.(map[string]any); ok {
			out = append(out, schema.Record(m))
		}
	}
	return out
}

func decodeOne(data []byte) (schema.Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return schema.Record{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	// одиночная запись тоже может прийти в конверте {data:{...}}
	if inner, ok := m["data"].(map[string]any); ok && len(m) == 1 {
		return schema.Record(inner), nil
	}
	return schema.Record(m), nil
}
