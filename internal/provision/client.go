// Package provision creates and destroys the cloud resources a probe run
// needs: a resource group, a hosting plan, a function app and its function.
// It talks to the vendor's management API over REST with OAuth2
// client-credentials auth, and completes long-running operations by polling
// provisioning state.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultAPIVersion is sent as the api-version query parameter.
	DefaultAPIVersion = "2023-12-01"
	// DefaultPollInterval is the initial delay between provisioning-state
	// polls; the actual delay backs off exponentially from here.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollTimeout caps how long a single long-running operation may
	// take to reach a terminal state.
	DefaultPollTimeout = 5 * time.Minute

	requestTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20

	providerNS = "App.Hosting"
)

// Options configures a management API client. BaseURL and AuthURL are
// required; everything else has a default.
type Options struct {
	// BaseURL is the management endpoint, e.g. https://management.example.com.
	BaseURL string
	// AuthURL is the login endpoint the token request goes to; the tenant
	// segment is appended per request.
	AuthURL string
	// Resource is the token audience. Defaults to BaseURL.
	Resource string
	// APIVersion overrides DefaultAPIVersion.
	APIVersion string
	// PollInterval and PollTimeout tune long-running operation polling.
	PollInterval time.Duration
	PollTimeout  time.Duration
	// HTTPClient, when set, is the base client used for token and API
	// requests. Tests point this at local servers.
	HTTPClient *http.Client
	// Logf receives client diagnostics. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Client is a management API client scoped to one subscription.
type Client struct {
	base         string
	sub          string
	apiVersion   string
	hc           *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	logf         func(format string, args ...any)
}

// NewClient validates creds and builds an authenticated client.
func NewClient(creds Credentials, opts Options) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if opts.BaseURL == "" {
		return nil, errors.New("provision: base URL is required")
	}
	if opts.AuthURL == "" {
		return nil, errors.New("provision: auth URL is required")
	}
	resource := opts.Resource
	if resource == "" {
		resource = opts.BaseURL
	}
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Client{
		base:         strings.TrimSuffix(opts.BaseURL, "/"),
		sub:          creds.SubscriptionID,
		apiVersion:   apiVersion,
		hc:           authClient(creds, opts.AuthURL, resource, opts.HTTPClient),
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logf:         logf,
	}, nil
}

// CreateResourceGroup creates (or updates in place) the named group. Group
// creation completes synchronously.
func (c *Client) CreateResourceGroup(ctx context.Context, name, location string) (*ResourceGroup, error) {
	in := resourcePayload{Location: location}
	if _, _, err := c.doJSON(ctx, http.MethodPut, c.groupPath(name), in, nil); err != nil {
		return nil, err
	}
	c.logf("provision: resource group %s ready in %s", name, location)
	return &ResourceGroup{Name: name, Location: location}, nil
}

// CreateAppWithPlan creates a consumption hosting plan and a function app
// bound to it, waiting for both to reach the Succeeded provisioning state.
// The returned App carries the invoke and SCM URLs the vendor reports for
// the site.
func (c *Client) CreateAppWithPlan(ctx context.Context, group, plan, app, location string) (*App, error) {
	planPath := c.resourcePath(group, "plans", plan)
	in := resourcePayload{
		Location: location,
		SKU:      &skuPayload{Name: "Y1", Tier: "Dynamic"},
	}
	if _, _, err := c.doJSON(ctx, http.MethodPut, planPath, in, nil); err != nil {
		return nil, err
	}
	if err := c.waitProvisioned(ctx, planPath, "plan "+plan); err != nil {
		return nil, err
	}
	c.logf("provision: plan %s ready", plan)

	sitePath := c.resourcePath(group, "sites", app)
	in = resourcePayload{
		Location:   location,
		Properties: &propertiesPayload{ServerFarmID: planPath},
	}
	if _, _, err := c.doJSON(ctx, http.MethodPut, sitePath, in, nil); err != nil {
		return nil, err
	}
	if err := c.waitProvisioned(ctx, sitePath, "site "+app); err != nil {
		return nil, err
	}

	var out resourcePayload
	if _, _, err := c.doJSON(ctx, http.MethodGet, sitePath, nil, &out); err != nil {
		return nil, err
	}
	if out.Properties == nil || out.Properties.HostURL == "" || out.Properties.SCMURL == "" {
		return nil, fmt.Errorf("provision: site %s is ready but reported no host or scm URL", app)
	}
	c.logf("provision: site %s ready at %s", app, out.Properties.HostURL)
	return &App{
		Name:      app,
		InvokeURL: out.Properties.HostURL,
		SCMURL:    out.Properties.SCMURL,
	}, nil
}

// CreateFunctionUnderApp registers a function with the given binding config
// under an existing app and returns its invoke URL.
func (c *Client) CreateFunctionUnderApp(ctx context.Context, group, app, name string, cfg FunctionConfig) (*Function, error) {
	path := c.resourcePath(group, "sites", app) + "/functions/" + url.PathEscape(name)
	in := resourcePayload{Properties: &propertiesPayload{Config: &cfg}}
	var out resourcePayload
	if _, _, err := c.doJSON(ctx, http.MethodPut, path, in, &out); err != nil {
		return nil, err
	}
	fn := &Function{Name: name}
	if out.Properties != nil {
		fn.InvokeURL = out.Properties.InvokeURL
	}
	c.logf("provision: function %s registered under %s", name, app)
	return fn, nil
}

// PublishingCredentials lists the SCM deployment credentials for an app.
func (c *Client) PublishingCredentials(ctx context.Context, group, app string) (*PublishTarget, error) {
	path := c.resourcePath(group, "sites", app) + "/publishcredentials/list"
	var out publishCredsPayload
	if _, _, err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Properties.SCMURL == "" || out.Properties.PublishingUserName == "" {
		return nil, fmt.Errorf("provision: publishing credentials for %s are incomplete", app)
	}
	return &PublishTarget{
		SCMURL:   out.Properties.SCMURL,
		Username: out.Properties.PublishingUserName,
		Password: out.Properties.PublishingPassword,
	}, nil
}

// DeleteResourceGroup deletes the named group and everything in it. The
// vendor answers 202 with a Location header; the operation is polled to
// completion. Deleting a group that does not exist is a success.
func (c *Client) DeleteResourceGroup(ctx context.Context, name string) error {
	hdr, status, err := c.doJSON(ctx, http.MethodDelete, c.groupPath(name), nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			c.logf("provision: resource group %s already gone", name)
			return nil
		}
		return err
	}
	if status != http.StatusAccepted {
		return nil
	}
	loc := hdr.Get("Location")
	if loc == "" {
		return fmt.Errorf("provision: delete %s accepted without an operation location", name)
	}
	if err := c.waitOperation(ctx, loc, "delete group "+name); err != nil {
		return err
	}
	c.logf("provision: resource group %s deleted", name)
	return nil
}

func (c *Client) groupPath(name string) string {
	return "/subscriptions/" + url.PathEscape(c.sub) + "/resourcegroups/" + url.PathEscape(name)
}

func (c *Client) resourcePath(group, kind, name string) string {
	return c.groupPath(group) + "/providers/" + providerNS + "/" + kind + "/" + url.PathEscape(name)
}

func (c *Client) apiURL(path string) string {
	u := c.base + path
	if strings.Contains(u, "?") {
		return u + "&api-version=" + c.apiVersion
	}
	return u + "?api-version=" + c.apiVersion
}

// doJSON issues one management API request against path and decodes the
// response body into out when out is non-nil. Non-2xx responses come back
// as *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) (http.Header, int, error) {
	return c.roundTrip(ctx, method, c.apiURL(path), in, out)
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string, in, out any) (http.Header, int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, 0, fmt.Errorf("provision: encode %s %s: %w", method, rawURL, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("provision: build %s %s: %w", method, rawURL, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("provision: %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.Header, resp.StatusCode, fmt.Errorf("provision: read response of %s %s: %w", method, rawURL, err)
	}
	if resp.StatusCode >= 400 {
		return resp.Header, resp.StatusCode, decodeAPIError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.Header, resp.StatusCode, fmt.Errorf("provision: decode response of %s %s: %w", method, rawURL, err)
		}
	}
	return resp.Header, resp.StatusCode, nil
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	var wire errorPayload
	if err := json.Unmarshal(body, &wire); err == nil && (wire.Error.Code != "" || wire.Error.Message != "") {
		apiErr.Code = wire.Error.Code
		apiErr.Message = wire.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// waitProvisioned polls the resource at path until its provisioningState
// reaches Succeeded. Failed and Canceled states, and 4xx poll responses,
// stop the polling immediately; other errors retry with backoff until the
// poll timeout.
func (c *Client) waitProvisioned(ctx context.Context, path, what string) error {
	return c.poll(ctx, what, func() (string, error) {
		var out resourcePayload
		if _, _, err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
			return "", err
		}
		if out.Properties == nil {
			return "", nil
		}
		return out.Properties.ProvisioningState, nil
	})
}

// waitOperation polls an operation URL (from a Location header) until the
// operation status reaches Succeeded.
func (c *Client) waitOperation(ctx context.Context, opURL, what string) error {
	return c.poll(ctx, what, func() (string, error) {
		var out operationPayload
		if _, _, err := c.roundTrip(ctx, http.MethodGet, opURL, nil, &out); err != nil {
			return "", err
		}
		return out.Status, nil
	})
}

func (c *Client) poll(ctx context.Context, what string, state func() (string, error)) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.pollInterval
	bo.MaxInterval = 8 * c.pollInterval
	bo.MaxElapsedTime = c.pollTimeout

	op := func() error {
		got, err := state()
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		switch strings.ToLower(got) {
		case "succeeded":
			return nil
		case "failed", "canceled":
			return backoff.Permanent(fmt.Errorf("provision: %s ended in state %q", what, got))
		default:
			return fmt.Errorf("provision: %s not finished, state %q", what, got)
		}
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
