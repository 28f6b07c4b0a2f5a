// Package gateway is the REST boundary of the physical count: list assets,
// verify one, bulk-save counts, look up by property number, export CSV.
package gateway

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

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
)

var (
	// ErrNotFound is returned for a 404 from the backend.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned for 401/403.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is any other non-2xx answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
}

// AssetQuery selects a page of assets. Zero values are omitted.
type AssetQuery struct {
	Office   string
	Verified *bool
	Search   string
	Page     int
	Limit    int
}

func (q AssetQuery) values() url.Values {
	v := url.Values{}
	v.Set("physicalCount", "true")
	if q.Office != "" {
		v.Set("office", q.Office)
	}
	if q.Verified != nil {
		v.Set("verified", strconv.FormatBool(*q.Verified))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Client talks to the backend API with a bearer token.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.log = logging.Or(l).WithField("component", "gateway") }
}

// NewHTTPClient bounds dialing and idle connections only. Requests have no
// overall deadline; callers that need one pass it in ctx.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// New creates a client for the API rooted at baseURL (e.g. http://host:3210/api).
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid API url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API url %q: scheme must be http or https", baseURL)
	}
	c := &Client{base: u, token: token, http: NewHTTPClient(), log: logging.Discard().WithField("component", "gateway")}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ListAssets fetches one page; SummaryStats is set when q.Office is.
func (c *Client) ListAssets(ctx context.Context, q AssetQuery) (*models.AssetPage, error) {
	var page models.AssetPage
	if err := c.do(ctx, http.MethodGet, []string{"assets"}, q.values(), nil, &page); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return &page, nil
}

// VerifyAsset sets or clears the verified flag of one asset.
func (c *Client) VerifyAsset(ctx context.Context, assetID string, verified bool) (*models.Asset, error) {
	var asset models.Asset
	body := models.VerifyRequest{Verified: &verified}
	if err := c.do(ctx, http.MethodPut, []string{"physical-count", assetID, "verify"}, nil, body, &asset); err != nil {
		return nil, fmt.Errorf("verify asset %s: %w", assetID, err)
	}
	return &asset, nil
}

// BulkSaveResult is the answer to a bulk save.
type BulkSaveResult struct {
	Message string `json:"message"`
	Updated int    `json:"updated"`
}

// BulkSave commits status/condition/remarks for several assets in one call.
func (c *Client) BulkSave(ctx context.Context, updates []models.PhysicalCountUpdate, user string) (*BulkSaveResult, error) {
	var res BulkSaveResult
	body := models.BulkSaveRequest{Updates: updates, User: user}
	if err := c.do(ctx, http.MethodPut, []string{"physical-count"}, nil, body, &res); err != nil {
		return nil, fmt.Errorf("bulk save: %w", err)
	}
	return &res, nil
}

// LookupByPropertyNumber finds an asset in any office. ErrNotFound when none.
func (c *Client) LookupByPropertyNumber(ctx context.Context, propertyNumber string) (*models.Asset, error) {
	var asset models.Asset
	if err := c.do(ctx, http.MethodGet, []string{"physical-count", "by-property-number", propertyNumber}, nil, nil, &asset); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", propertyNumber, err)
	}
	return &asset, nil
}

// ExportCSV streams the office's count sheet into w.
func (c *Client) ExportCSV(ctx context.Context, office string, w io.Writer) (int64, error) {
	q := url.Values{}
	if office != "" {
		q.Set("office", office)
	}
	resp, err := c.send(ctx, http.MethodGet, []string{"physical-count", "export"}, q, nil)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("export: %w", err)
	}
	return n, nil
}

func (c *Client) do(ctx context.Context, method string, path []string, q url.Values, in, out interface{}) error {
	resp, err := c.send(ctx, method, path, q, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// endpoint appends segments to the API root. Each segment is escaped on its
// own, so a "/" inside a property number stays inside that segment.
func (c *Client) endpoint(segments ...string) *url.URL {
	u := *c.base
	raw := strings.TrimSuffix(c.base.EscapedPath(), "/")
	path := strings.TrimSuffix(c.base.Path, "/")
	for _, s := range segments {
		raw += "/" + url.PathEscape(s)
		path += "/" + s
	}
	u.Path, u.RawPath = path, raw
	return &u
}

// send returns the response only for 2xx; the caller closes the body.
func (c *Client) send(ctx context.Context, method string, path []string, q url.Values, in interface{}) (*http.Response, error) {
	u := c.endpoint(path...)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"method": method, "path": u.Path, "status": resp.StatusCode, "duration": time.Since(start).String(),
	}).Debug("API call")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	var apiErr struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&apiErr)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	}
	return nil, &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
}
