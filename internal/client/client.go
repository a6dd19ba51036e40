// Package client talks to the menu API on behalf of an owner. Collection
// implements synchronizer.Remote so local snapshots can be driven against a
// running server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/events"
	"github.com/example/menu-sync/internal/ordering"
	"github.com/example/menu-sync/internal/types"
)

// UserHeader must match the header the server authenticates with.
const UserHeader = "X-User-ID"

// APIError is a non-2xx answer of the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// Client is an authenticated connection to the API.
type Client struct {
	base   *url.URL
	user   string
	http   *http.Client
	logger zerolog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New constructs a client for the server at baseURL acting as user.
func New(baseURL, user string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   base,
		user:   user,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(UserHeader, c.user)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
		}
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("request rejected")
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Restaurants lists the restaurants of the client's user.
func (c *Client) Restaurants(ctx context.Context) ([]types.Restaurant, error) {
	var out []types.Restaurant
	err := c.do(ctx, http.MethodGet, "/restaurants", nil, &out)
	return out, err
}

// Publish makes the restaurant public.
func (c *Client) Publish(ctx context.Context, id string) (types.Restaurant, error) {
	var out types.Restaurant
	err := c.do(ctx, http.MethodPost, "/restaurants/"+url.PathEscape(id)+"/publish", nil, &out)
	return out, err
}

// Unpublish hides the restaurant from the public surface.
func (c *Client) Unpublish(ctx context.Context, id string) (types.Restaurant, error) {
	var out types.Restaurant
	err := c.do(ctx, http.MethodDelete, "/restaurants/"+url.PathEscape(id)+"/publish", nil, &out)
	return out, err
}

// Collection is the remote store of one orderable kind.
type Collection[T ordering.Orderable[T]] struct {
	client *Client
	kind   types.Kind
}

// NewCollection binds c to kind.
func NewCollection[T ordering.Orderable[T]](c *Client, kind types.Kind) *Collection[T] {
	return &Collection[T]{client: c, kind: kind}
}

func (r *Collection[T]) collectionPath(parent string) string {
	return "/" + r.kind.ParentPlural() + "/" + url.PathEscape(parent) + "/" + r.kind.Plural()
}

func (r *Collection[T]) entityPath(id string) string {
	return "/" + r.kind.Plural() + "/" + url.PathEscape(id)
}

// FetchCollection lists the children of parent in position order.
func (r *Collection[T]) FetchCollection(ctx context.Context, parent string) ([]T, error) {
	var out []T
	err := r.client.do(ctx, http.MethodGet, r.collectionPath(parent), nil, &out)
	return out, err
}

// UpdateOrder persists a reorder of the children of parent.
func (r *Collection[T]) UpdateOrder(ctx context.Context, parent string, updates []ordering.PositionUpdate) error {
	return r.client.do(ctx, http.MethodPut, r.collectionPath(parent)+"/order", updates, nil)
}

// DeleteEntity removes an entity and returns it.
func (r *Collection[T]) DeleteEntity(ctx context.Context, id string) (T, error) {
	var out T
	err := r.client.do(ctx, http.MethodDelete, r.entityPath(id), nil, &out)
	return out, err
}

// SaveEntity creates item under parent when it has no id yet and updates it
// otherwise.
func (r *Collection[T]) SaveEntity(ctx context.Context, parent string, item T) (T, error) {
	var out T
	if item.OrderKey() == "" {
		err := r.client.do(ctx, http.MethodPost, r.collectionPath(parent), item, &out)
		return out, err
	}
	err := r.client.do(ctx, http.MethodPut, r.entityPath(item.OrderKey()), item, &out)
	return out, err
}

// Watch streams change events of the given collections until ctx ends or the
// connection drops.
func (c *Client) Watch(ctx context.Context, collections []types.ParentKey, fn func(types.ChangeEvent)) error {
	if len(collections) == 0 {
		return errors.New("watch: no collections")
	}
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	for _, key := range collections {
		q.Add("topic", key.String())
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	header.Set(UserHeader, c.user)
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		ev, err := events.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping undecodable event frame")
			continue
		}
		fn(ev)
	}
}
