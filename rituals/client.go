// Package rituals reads Rituals Perfume Genie diffusers from the vendor
// cloud and exposes their diagnostic values as sensors.
package rituals

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elijahnyp/home_bridge/util"
	"github.com/pkg/errors"
)

const (
	loginPath   = "/ocapi/login"
	accountPath = "/api/account/hubs/"
	hubPath     = "/api/account/hub/"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Client talks to the Rituals cloud on behalf of one account.
type Client struct {
	baseURL  string
	email    string
	password string
	http     *http.Client

	mu          sync.RWMutex
	accountHash string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) AccountHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountHash
}

// Authenticate logs in and keeps the account hash for the other calls.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return errors.Wrap(err, "encoding login")
	}
	var resp struct {
		AccountHash string `json:"account_hash"`
	}
	if err := c.do(ctx, http.MethodPost, loginPath, bytes.NewReader(body), &resp); err != nil {
		return errors.Wrap(err, "login")
	}
	if resp.AccountHash == "" {
		return errors.New("login: no account hash in response")
	}
	c.mu.Lock()
	c.accountHash = resp.AccountHash
	c.mu.Unlock()
	util.Logger.Debug().Msg("rituals: authenticated")
	return nil
}

// Diffusers lists the diffusers of the account.
func (c *Client) Diffusers(ctx context.Context) ([]*Diffuser, error) {
	hash := c.AccountHash()
	if hash == "" {
		return nil, ErrNotAuthenticated
	}
	var hubs []hubEnvelope
	if err := c.do(ctx, http.MethodGet, accountPath+hash, nil, &hubs); err != nil {
		return nil, errors.Wrap(err, "listing diffusers")
	}
	out := make([]*Diffuser, 0, len(hubs))
	for _, h := range hubs {
		out = append(out, newDiffuser(h.Hub))
	}
	return out, nil
}

// Refresh fetches the current data of the diffuser with the given hublot.
func (c *Client) Refresh(ctx context.Context, hublot string) (*Diffuser, error) {
	if c.AccountHash() == "" {
		return nil, ErrNotAuthenticated
	}
	var hub hubEnvelope
	if err := c.do(ctx, http.MethodGet, hubPath+hublot, nil, &hub); err != nil {
		return nil, errors.Wrapf(err, "refreshing %s", hublot)
	}
	return newDiffuser(hub.Hub), nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			util.Logger.Error().Msgf("Error closing response body: %v", closeErr)
		}
	}()
	if resp.StatusCode > 299 || resp.StatusCode < 200 {
		return errors.Errorf("non-2xx code received: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}
