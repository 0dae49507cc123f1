package scim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	contentType     = "application/scim+json"
	defaultTimeout  = 10 * time.Second
	defaultPageSize = 100
)

// Config holds the identity server connection settings
type Config struct {
	// Endpoint is the SCIM base URL, e.g. https://idp.example.com/scim/v2
	Endpoint     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	PageSize     int
}

// Client talks to the /Users resource of a SCIM server
type Client struct {
	endpoint    string
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	pageSize    int
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for SCIM calls. When no token
// source is configured the client is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTokenSource overrides the OAuth2 token source
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokenSource = ts
	}
}

// NewClient creates a SCIM client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrMissingEndpoint
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	c := &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		pageSize:   pageSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.tokenSource == nil && cfg.TokenURL != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		c.tokenSource = NewTokenSource(ctx, cfg)
	}

	if c.tokenSource != nil {
		base := c.httpClient
		c.httpClient = &http.Client{
			Timeout: base.Timeout,
			Transport: &oauth2.Transport{
				Source: c.tokenSource,
				Base:   base.Transport,
			},
		}
	}

	return c, nil
}

// SearchUsers runs a single page search
func (c *Client) SearchUsers(ctx context.Context, query Query) (*ListResponse, error) {
	res := &ListResponse{}
	if err := c.do(ctx, http.MethodGet, "/Users", query.Values(), nil, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SearchAllUsers follows startIndex until every result has been read
func (c *Client) SearchAllUsers(ctx context.Context, query Query) ([]*User, error) {
	if query.Count <= 0 {
		query.Count = c.pageSize
	}
	if query.StartIndex <= 0 {
		query.StartIndex = 1
	}

	var users []*User
	for {
		page, err := c.SearchUsers(ctx, query)
		if err != nil {
			return nil, err
		}

		users = append(users, page.Resources...)

		if len(page.Resources) == 0 || len(users) >= page.TotalResults {
			return users, nil
		}

		query.StartIndex += len(page.Resources)
	}
}

// GetUser fetches a single user
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	user := &User{}
	if err := c.do(ctx, http.MethodGet, "/Users/"+url.PathEscape(id), nil, nil, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser creates a user and returns the server representation
func (c *Client) CreateUser(ctx context.Context, user *User) (*User, error) {
	created := &User{}
	if err := c.do(ctx, http.MethodPost, "/Users", nil, user, created); err != nil {
		return nil, err
	}
	return created, nil
}

// PatchUser applies a patch request. Servers may answer 204, in that
// case the user is read back. An empty patch only reads the user.
func (c *Client) PatchUser(ctx context.Context, id string, patch *PatchRequest) (*User, error) {
	if patch.IsEmpty() {
		return c.GetUser(ctx, id)
	}

	updated := &User{}
	status, err := c.doStatus(ctx, http.MethodPatch, "/Users/"+url.PathEscape(id), nil, patch, updated)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNoContent {
		return c.GetUser(ctx, id)
	}

	return updated, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.doStatus(ctx, method, path, query, body, out)
	return err
}

func (c *Client) doStatus(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("scim: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", contentType+", application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("scim: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("scim: read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		scimErr := &Error{}
		if len(data) > 0 {
			_ = json.Unmarshal(data, scimErr)
		}
		scimErr.Status = resp.StatusCode
		scimErr.Method = method
		scimErr.Path = path
		return resp.StatusCode, scimErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("scim: decode %s %s: %w", method, path, err)
	}

	return resp.StatusCode, nil
}
