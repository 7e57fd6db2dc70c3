package httpdispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/offlineq/internal/dispatch"
	"github.com/tonimelisma/offlineq/internal/queue"
)

const (
	defaultUserAgent = "offlineq/0.1"
	// maxErrorBody caps how much of an error response ends up in messages.
	maxErrorBody = 4 << 10
)

// TokenSource provides bearer tokens. A nil TokenSource sends no
// Authorization header.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// Client turns queued actions into REST calls:
//
//	CREATE  POST   {base}/{entity}
//	UPDATE  PATCH  {base}/{entity}/{id}
//	DELETE  DELETE {base}/{entity}/{id}
//
// The id comes from the payload's "id" field. The client never retries; the
// sync engine owns retry and backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a Client. baseURL has no trailing slash, e.g.
// "https://api.example.com/v1".
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Register installs the client's handlers for CREATE, UPDATE and DELETE on
// every entity, plus validators that require an "id" for UPDATE and DELETE.
func (c *Client) Register(reg *dispatch.Registry, entities ...string) {
	requireID := dispatch.RequireFields("id")

	for _, entity := range entities {
		for _, typ := range []queue.ActionType{queue.ActionCreate, queue.ActionUpdate, queue.ActionDelete} {
			reg.Register(entity, typ, c.Handler(typ))
		}

		reg.RegisterValidator(entity, queue.ActionUpdate, requireID)
		reg.RegisterValidator(entity, queue.ActionDelete, requireID)
	}
}

// Handler returns the dispatch.Handler for one action type. It needs the
// Meta that dispatch.Registry attaches to the context.
func (c *Client) Handler(typ queue.ActionType) dispatch.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		meta, ok := dispatch.MetaFrom(ctx)
		if !ok {
			return dispatch.Permanent("httpdispatch", errors.New("missing dispatch metadata"))
		}

		return c.send(ctx, typ, meta, payload)
	}
}

func (c *Client) send(ctx context.Context, typ queue.ActionType, meta dispatch.Meta, payload json.RawMessage) error {
	method, path, err := route(typ, meta.Entity, payload)
	if err != nil {
		return dispatch.Permanent("httpdispatch: routing", err)
	}

	var body io.Reader
	if typ != queue.ActionDelete {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return dispatch.Permanent("httpdispatch: creating request", err)
	}

	if c.token != nil {
		tok, tokErr := c.token.Token()
		if tokErr != nil {
			return dispatch.Transient("httpdispatch: obtaining token", tokErr)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Idempotency-Key", meta.ActionID)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Precondition on the state the action was queued against. An override
	// re-dispatch drops it so the server applies the action.
	if typ != queue.ActionCreate && !meta.Override && !meta.CreatedAt.IsZero() {
		req.Header.Set("If-Unmodified-Since", meta.CreatedAt.UTC().Format(http.TimeFormat))
	}

	op := method + " " + path

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("httpdispatch: %s canceled: %w", op, ctx.Err())
		}

		return dispatch.Transient("httpdispatch: "+op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("action_id", meta.ActionID),
		)

		return nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    strings.TrimSpace(string(errBody)),
		Err:        classifyStatus(resp.StatusCode),
	}

	c.logger.Warn("request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("action_id", meta.ActionID),
		slog.Bool("override", meta.Override),
	)

	return toDispatchError("httpdispatch: "+op, httpErr, resp.Header.Get("Last-Modified"))
}

// route picks the method and path for an action.
func route(typ queue.ActionType, entity string, payload json.RawMessage) (string, string, error) {
	collection := "/" + url.PathEscape(entity)

	switch typ {
	case queue.ActionCreate:
		return http.MethodPost, collection, nil
	case queue.ActionUpdate, queue.ActionDelete:
		id, err := payloadID(payload)
		if err != nil {
			return "", "", err
		}

		method := http.MethodPatch
		if typ == queue.ActionDelete {
			method = http.MethodDelete
		}

		return method, collection + "/" + url.PathEscape(id), nil
	default:
		return "", "", fmt.Errorf("unsupported action type %s", typ)
	}
}

// payloadID reads the "id" field, accepting strings and numbers.
func payloadID(payload json.RawMessage) (string, error) {
	var obj struct {
		ID json.RawMessage `json:"id"`
	}

	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", fmt.Errorf("decoding payload: %w", err)
	}

	if len(obj.ID) == 0 || string(obj.ID) == "null" {
		return "", errors.New("payload has no id")
	}

	var s string
	if err := json.Unmarshal(obj.ID, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", errors.New("payload id is empty")
		}

		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(obj.ID, &n); err == nil {
		return n.String(), nil
	}

	return "", fmt.Errorf("payload id must be a string or number, got %s", obj.ID)
}
