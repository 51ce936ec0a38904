// Package growi is the HTTP client for the wiki API. Every failure it returns is an *Error.
package growi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"growiclient/app/internal/settings"
	"growiclient/app/internal/wikipath"
)

const defaultTimeout = 30 * time.Second

// Setting names reported by SettingsUndefined.
const (
	SettingWikiURL  = string(settings.NameWikiURL)
	SettingAPIToken = string(settings.NameAPIToken)
)

// ClientOptions controls how the wiki client is initialised.
type ClientOptions struct {
	Settings   settings.Provider
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *logrus.Logger
}

// Client issues requests against the wiki API using the current settings on every call.
type Client struct {
	settings   settings.Provider
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Settings == nil {
		return nil, eris.New("settings provider is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		settings:   opts.Settings,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// GetPages lists the pages below path, descendants included, one slice at a time.
func (c *Client) GetPages(ctx context.Context, path string, opts ListOptions) (*PageList, error) {
	baseURL, token, cerr := c.credentials()
	if cerr != nil {
		return nil, cerr
	}

	query := url.Values{}
	query.Set("access_token", token)
	query.Set("path", wikipath.Dir(path))
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	var resp listResponse
	raw, err := c.do(ctx, http.MethodGet, baseURL+"_api/pages.list", query, nil, acceptSuccess, &resp)
	if err != nil {
		return nil, translate(err, path)
	}
	if !resp.OK {
		return nil, translate(applicationError(resp.Error, raw), path)
	}

	list := &PageList{
		Pages:      make([]PageSummary, 0, len(resp.Pages)),
		TotalCount: resp.TotalCount,
		Limit:      resp.Limit,
		Offset:     resp.Offset,
	}
	for _, page := range resp.Pages {
		list.Pages = append(list.Pages, page.toSummary())
	}
	return list, nil
}

// GetPage fetches one page by exact path.
func (c *Client) GetPage(ctx context.Context, path string) (*Page, error) {
	baseURL, token, cerr := c.credentials()
	if cerr != nil {
		return nil, cerr
	}
	path = wikipath.Normalize(path)

	query := url.Values{}
	query.Set("access_token", token)
	query.Set("path", path)

	var resp pageResponse
	raw, err := c.do(ctx, http.MethodGet, baseURL+"_api/pages.get", query, nil, acceptSuccess, &resp)
	if err != nil {
		return nil, translate(err, path)
	}
	if !resp.OK {
		return nil, translate(applicationError(resp.Error, raw), path)
	}
	if resp.Page == nil {
		return nil, Other("malformed pages.get response: " + raw)
	}
	if resp.Page.RedirectTo == "/trash"+path {
		return nil, PageMovedToTrash(path)
	}

	return resp.Page.toPage(), nil
}

// UpdatePage replaces the body of an existing page. The current revision is fetched first
// so the update always carries a fresh revision id.
func (c *Client) UpdatePage(ctx context.Context, path, body string) (*Page, error) {
	path = wikipath.Normalize(path)

	current, err := c.GetPage(ctx, path)
	if err != nil {
		return nil, err
	}

	baseURL, token, cerr := c.credentials()
	if cerr != nil {
		return nil, cerr
	}

	request := updateRequest{
		AccessToken: token,
		PageID:      current.ID,
		RevisionID:  current.Revision.ID,
		Body:        body,
	}

	var resp pageResponse
	raw, err := c.do(ctx, http.MethodPost, baseURL+"_api/pages.update", nil, request, acceptSuccess, &resp)
	if err != nil {
		return nil, translate(err, path)
	}
	if !resp.OK {
		return nil, translate(applicationError(resp.Error, raw), path)
	}
	if resp.Page == nil {
		return current, nil
	}

	return resp.Page.toPage(), nil
}

// PageExists probes a single path. A missing page is reported as false, not as an error.
func (c *Client) PageExists(ctx context.Context, path string) (bool, error) {
	baseURL, token, cerr := c.credentials()
	if cerr != nil {
		return false, cerr
	}
	path = wikipath.Normalize(path)

	pagePaths, err := json.Marshal([]string{path})
	if err != nil {
		return false, translate(eris.Wrap(err, "encoding page paths"), path)
	}

	query := url.Values{}
	query.Set("access_token", token)
	query.Set("pagePaths", string(pagePaths))

	var resp existResponse
	raw, err := c.do(ctx, http.MethodGet, baseURL+"_api/pages.exist", query, nil, acceptSuccess, &resp)
	if err != nil {
		return existsOrError(translate(err, path))
	}
	if !resp.OK {
		return existsOrError(translate(applicationError(resp.Error, raw), path))
	}

	return resp.Pages[path], nil
}

func existsOrError(err *Error) (bool, error) {
	if err.Kind == KindPageNotFound {
		return false, nil
	}
	return false, err
}

// CreatePage creates a new page. The wiki answers a duplicate path with HTTP 500 and an
// error code, so 500 is read as a regular response.
func (c *Client) CreatePage(ctx context.Context, path, body string) (*Page, error) {
	baseURL, token, cerr := c.credentials()
	if cerr != nil {
		return nil, cerr
	}
	path = wikipath.Normalize(path)

	request := createRequest{AccessToken: token, Path: path, Body: body}

	var resp createResponse
	raw, err := c.do(ctx, http.MethodPost, baseURL+"_api/v3/pages", nil, request, acceptCreate, &resp)
	if err != nil {
		return nil, translate(err, path)
	}
	if len(resp.Errors) > 0 {
		// TODO: report every error the wiki returns instead of the first one.
		first := resp.Errors[0]
		code := first.Code
		if code == "" {
			code = first.Message
		}
		return nil, translate(applicationError(code, raw), path)
	}
	if resp.Data == nil {
		return nil, Other("malformed create page response: " + raw)
	}

	page := resp.Data.Page.toPage()
	page.Revision = resp.Data.Revision.Revision
	return page, nil
}

// PageURL returns the browser address of a page, optionally opening the editor.
func (c *Client) PageURL(path string, edit bool) (string, error) {
	current := c.settings.Current()
	if current.WikiURL == "" {
		return "", SettingsUndefined(SettingWikiURL)
	}

	escaped := (&url.URL{Path: wikipath.Normalize(path)}).EscapedPath()
	address := current.WikiURL + strings.TrimPrefix(escaped, "/")
	if edit {
		address += "#edit"
	}
	return address, nil
}

func (c *Client) credentials() (string, string, *Error) {
	current := c.settings.Current()

	if current.WikiURL != "" && current.APIToken != "" {
		token, err := url.PathUnescape(current.APIToken)
		if err != nil {
			token = current.APIToken
		}
		return current.WikiURL, token, nil
	}

	var missing []string
	if current.WikiURL == "" {
		missing = append(missing, SettingWikiURL)
	}
	if current.APIToken == "" {
		missing = append(missing, SettingAPIToken)
	}
	return "", "", SettingsUndefined(missing...)
}

func acceptSuccess(status int) bool {
	return status >= 200 && status < 300
}

func acceptCreate(status int) bool {
	return acceptSuccess(status) || status == http.StatusInternalServerError
}

func applicationError(message, raw string) error {
	if message == "" {
		message = raw
	}
	return appError(message)
}

// do performs one request and decodes the JSON body into out. It returns the raw body so
// unrecognised payloads can be reported verbatim.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, accept func(int) bool, out any) (string, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return "", eris.Wrapf(err, "parsing endpoint %s", endpoint)
	}
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return "", eris.Wrap(err, "encoding request body")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return "", eris.Wrapf(redactTransportError(err, target), "building %s request", target.Path)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = redactTransportError(err, target)
		c.logRequest(method, target.Path, 0, start, err)
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logRequest(method, target.Path, resp.StatusCode, start, err)
		return "", eris.Wrap(err, "reading response body")
	}
	raw := strings.TrimSpace(string(data))

	c.logRequest(method, target.Path, resp.StatusCode, start, nil)

	if !accept(resp.StatusCode) {
		return raw, &statusError{code: resp.StatusCode, body: raw}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return raw, eris.Wrapf(err, "decoding %s response", target.Path)
	}
	return raw, nil
}

// redactTransportError rebuilds a *url.Error so its message names the endpoint without the
// query string, which carries the access token.
func redactTransportError(err error, target *url.URL) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	redacted := *target
	query := redacted.Query()
	if query.Has("access_token") {
		query.Set("access_token", "REDACTED")
	}
	redacted.RawQuery = query.Encode()

	return &url.Error{Op: urlErr.Op, URL: redacted.String(), Err: urlErr.Err}
}

func (c *Client) logRequest(method, path string, status int, start time.Time, err error) {
	if c.logger == nil {
		return
	}

	entry := c.logger.WithFields(logrus.Fields{
		"method":      method,
		"endpoint":    path,
		"status":      status,
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
	if err != nil {
		entry.WithField("error", err.Error()).Debug("wiki request failed")
		return
	}
	entry.Debug("wiki request completed")
}
