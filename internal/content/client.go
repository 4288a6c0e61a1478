// internal/content/client.go
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

// tokenTTL bounds the lifetime of the bearer token minted for each request.
const tokenTTL = 5 * time.Minute

// Store is the content service as seen by the session coordinator.
type Store interface {
	// TryResolve looks a blob up by exact key. A miss is not an error.
	TryResolve(ctx context.Context, kind Kind, key models.BlobKey) (uri string, found bool, err error)
	// Upload stores size bytes from r under key and returns the blob URI,
	// which may be relative to ServiceURI.
	Upload(ctx context.Context, kind Kind, key models.BlobKey, r io.Reader, size, limit int64, progress func(int)) (string, error)
	// ServiceURI is the root that relative blob URIs are resolved against.
	ServiceURI() string
}

// Client is the HTTP implementation of Store.
type Client struct {
	base   *url.URL
	secret []byte
	http   *http.Client
	logger log.FieldLogger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the content service at serviceURI. When
// secret is non-empty every request carries a short-lived HS256 bearer token
// signed with it.
func NewClient(serviceURI, secret string, opts ...Option) (*Client, error) {
	if !strings.HasSuffix(serviceURI, "/") {
		serviceURI += "/"
	}
	base, err := url.Parse(serviceURI)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid content service uri %q", serviceURI)
	}
	c := &Client{
		base:   base,
		secret: []byte(secret),
		http:   &http.Client{Timeout: 10 * time.Minute},
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(log.Fields{"component": "content", "service": base.String()})
	return c, nil
}

// ServiceURI returns the service root with a trailing slash.
func (c *Client) ServiceURI() string { return c.base.String() }

type uriResponse struct {
	URI string `json:"uri"`
}

// TryResolve implements Store.
func (c *Client) TryResolve(ctx context.Context, kind Kind, key models.BlobKey) (string, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, kind, key, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, errs.Network("resolve "+string(kind), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body uriResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", false, errs.Network("decode "+string(kind)+" uri", err)
		}
		return body.URI, body.URI != "", nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, errs.Network("resolve "+string(kind), fmt.Errorf("unexpected status %s", resp.Status))
	}
}

// Upload implements Store. Content larger than limit is refused before any
// byte is sent.
func (c *Client) Upload(ctx context.Context, kind Kind, key models.BlobKey, r io.Reader, size, limit int64, progress func(int)) (string, error) {
	if limit > 0 && size > limit {
		return "", &errs.ContentTooLargeError{Size: size, Limit: limit}
	}

	body := newProgressReader(io.LimitReader(r, size), size, progress)
	req, err := c.newRequest(ctx, http.MethodPut, kind, key, body)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	logger := c.logger.WithFields(log.Fields{"kind": kind, "name": key.Name, "size": size})
	logger.Debug("uploading content")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Network("upload "+string(kind), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusRequestEntityTooLarge:
		return "", &errs.ContentTooLargeError{Size: size, Limit: limit}
	default:
		return "", errs.Network("upload "+string(kind), fmt.Errorf("unexpected status %s", resp.Status))
	}

	var out uriResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errs.Network("decode upload response", err)
	}
	if out.URI == "" {
		return "", &errs.InvariantError{What: "content service returned an empty uri"}
	}
	if progress != nil {
		progress(100)
	}
	logger.WithField("uri", out.URI).Info("content uploaded")
	return out.URI, nil
}

func (c *Client) newRequest(ctx context.Context, method string, kind Kind, key models.BlobKey, body io.Reader) (*http.Request, error) {
	u := c.base.JoinPath("content", string(kind), key.Name)
	u.RawQuery = url.Values{"hash": {EncodeHash(key.Hash)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build content request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if len(c.secret) > 0 {
		token, err := c.bearer()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// bearer mints the token the content service uses to tell trusted clients apart.
func (c *Client) bearer() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "sionline-client",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign content token: %w", err)
	}
	return token, nil
}

// ResolveURI makes a blob URI returned by the service absolute. Relative URIs,
// with or without a leading slash, are taken relative to serviceURI.
func ResolveURI(serviceURI, uri string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse content uri %q: %w", uri, err)
	}
	if ref.IsAbs() {
		return uri, nil
	}
	if !strings.HasSuffix(serviceURI, "/") {
		serviceURI += "/"
	}
	base, err := url.Parse(serviceURI)
	if err != nil {
		return "", fmt.Errorf("parse content service uri %q: %w", serviceURI, err)
	}
	rel, err := url.Parse(strings.TrimLeft(uri, "/"))
	if err != nil {
		return "", fmt.Errorf("parse content uri %q: %w", uri, err)
	}
	return base.ResolveReference(rel).String(), nil
}
