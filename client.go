package eldes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "eldes",
})

// SetLogLevel changes the level of the client logger.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

type options struct {
	baseURL         string
	httpClient      *http.Client
	timeout         time.Duration
	lease           time.Duration
	leaseMargin     time.Duration
	breakerFailures uint32
	breakerTimeout  time.Duration
	now             func() time.Time
}

type Option func(*options)

// WithBaseURL overrides the cloud API base URL.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithHTTPClient sets the HTTP client used for requests. Its timeout is
// overwritten by WithTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLease sets the access token lease and the margin subtracted from it.
func WithLease(lease, margin time.Duration) Option {
	return func(o *options) {
		o.lease = lease
		o.leaseMargin = margin
	}
}

// WithBreaker sets how many consecutive failures open the circuit breaker
// and for how long it stays open.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(o *options) {
		o.breakerFailures = failures
		o.breakerTimeout = openFor
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Client talks to the Eldes cloud API.
type Client struct {
	transport *Transport
	session   *SessionManager
}

// New creates a client for the given account. It does not log in.
func New(username, password string, opts ...Option) (*Client, error) {
	o := options{
		baseURL:         DefaultBaseURL,
		timeout:         DefaultTimeout,
		lease:           DefaultLease,
		leaseMargin:     DefaultLeaseMargin,
		breakerFailures: 5,
		breakerTimeout:  time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.breakerFailures == 0 {
		o.breakerFailures = 1
	}

	t, err := newTransport(o)
	if err != nil {
		return nil, err
	}
	return &Client{
		transport: t,
		session:   newSessionManager(t, username, password, o),
	}, nil
}

// Session exposes the session manager.
func (c *Client) Session() *SessionManager {
	return c.session
}

func (c *Client) Login(ctx context.Context) error {
	if _, err := c.session.Login(ctx); err != nil {
		return fmt.Errorf("could not login: %w", err)
	}
	return nil
}

func (c *Client) Devices(ctx context.Context) ([]DeviceSummary, error) {
	var result struct {
		Devices []DeviceSummary `json:"deviceListEntries"`
	}
	if err := c.call(ctx, "list devices", http.MethodGet, "device/list", nil, &result); err != nil {
		return nil, err
	}
	log.Debug("devices", "devices", result.Devices)
	return orEmpty(result.Devices), nil
}

func (c *Client) DeviceInfo(ctx context.Context, imei string) (DeviceInfo, error) {
	var info DeviceInfo
	path := "device/info?imei=" + url.QueryEscape(imei)
	if err := c.call(ctx, "device info", http.MethodGet, path, nil, &info); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}

type imeiRequest struct {
	IMEI string `json:"imei"`
}

func (c *Client) Partitions(ctx context.Context, imei string) ([]Partition, error) {
	var result struct {
		Partitions []Partition `json:"partitions"`
	}
	path := "device/partition/list?imei=" + url.QueryEscape(imei)
	if err := c.call(ctx, "list partitions", http.MethodPost, path, imeiRequest{imei}, &result); err != nil {
		return nil, err
	}
	return orEmpty(result.Partitions), nil
}

func (c *Client) Outputs(ctx context.Context, imei string) ([]Output, error) {
	var result struct {
		Outputs []Output `json:"deviceOutputs"`
	}
	path := "device/list-outputs/" + url.PathEscape(imei)
	if err := c.call(ctx, "list outputs", http.MethodPost, path, imeiRequest{imei}, &result); err != nil {
		return nil, err
	}
	return orEmpty(result.Outputs), nil
}

func (c *Client) Temperatures(ctx context.Context, imei string) ([]TemperatureSensor, error) {
	var result struct {
		Temperatures []TemperatureSensor `json:"temperatureDetailsList"`
	}
	path := "device/temperatures?imei=" + url.QueryEscape(imei)
	if err := c.call(ctx, "list temperatures", http.MethodPost, path, struct{}{}, &result); err != nil {
		return nil, err
	}
	return orEmpty(result.Temperatures), nil
}

// Events returns the latest count events of the account, in the order the
// cloud returns them. The event list endpoint is not scoped by device, imei
// is only used for logging.
func (c *Client) Events(ctx context.Context, imei string, count int) ([]Event, error) {
	var result struct {
		Events []Event `json:"eventDetails"`
	}
	body := struct {
		Size  int `json:"size"`
		Start int `json:"start"`
	}{Size: count}
	if err := c.call(ctx, "list events", http.MethodPost, "device/event/list", body, &result); err != nil {
		return nil, err
	}
	log.Debug("events", "imei", imei, "count", len(result.Events))
	return orEmpty(result.Events), nil
}

// SetAlarm changes the mode of a partition. index is the position of the
// partition in the list returned by Partitions, not its id.
func (c *Client) SetAlarm(ctx context.Context, mode AlarmMode, imei string, index int) error {
	body := struct {
		IMEI      string `json:"imei"`
		Partition int    `json:"partitionIndex"`
	}{imei, index}
	op := fmt.Sprintf("set alarm %s", mode)
	if err := c.call(ctx, op, http.MethodPost, "device/action/"+string(mode), body, nil); err != nil {
		return err
	}
	log.Info("alarm mode set", "imei", imei, "index", index, "mode", mode)
	return nil
}

func (c *Client) SetOutput(ctx context.Context, imei string, output int, enable bool) error {
	action := "disable"
	if enable {
		action = "enable"
	}
	path := fmt.Sprintf("device/control/%s/%s/%d", action, url.PathEscape(imei), output)
	if err := c.call(ctx, action+" output", http.MethodPut, path, struct{}{}, nil); err != nil {
		return err
	}
	log.Info("output set", "imei", imei, "output", output, "enable", enable)
	return nil
}

// call ensures a fresh session, sends the request and recovers once from an
// authentication failure: a 401 logs in again, a 403 renews the token.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.session.EnsureFresh(ctx); err != nil {
		return err
	}

	resp, err := c.transport.Do(ctx, method, path, c.session.Authorization(), body)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		log.Warn("unauthorized, logging in again", "op", op)
		if _, err := c.session.Login(ctx); err != nil {
			return err
		}
		resp, err = c.transport.Do(ctx, method, path, c.session.Authorization(), body)
	case http.StatusForbidden:
		log.Warn("forbidden, renewing token", "op", op)
		if err := c.session.Renew(ctx); err != nil {
			return err
		}
		resp, err = c.transport.Do(ctx, method, path, c.session.Authorization(), body)
	}
	if err != nil {
		return err
	}

	if !resp.ok() {
		return newError(statusKind(resp.StatusCode), op, resp.StatusCode, nil)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return newError(KindValidation, op, resp.StatusCode, err)
	}
	return nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
