package eldes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultBaseURL = "https://cloud.eldesalarms.com:8083/api/"
	DefaultTimeout = 30 * time.Second
)

var headers = map[string]string{
	"X-Requested-With": "XMLHttpRequest",
	"x-whitelable":     "eldes",
	"Accept":           "application/json",
}

// errServerStatus only exists so the breaker counts 5xx responses as failures.
var errServerStatus = errors.New("server error status")

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport performs timed JSON requests against the cloud API.
// It does not interpret status codes besides feeding the circuit breaker.
type Transport struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newTransport(o options) (*Transport, error) {
	base := o.baseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", o.baseURL, err)
	}

	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	hc.Timeout = o.timeout

	return &Transport{
		base: u,
		http: hc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "eldes-cloud",
			Timeout: o.breakerTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= o.breakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}, nil
}

// Do sends the request and reads the whole response. Only network failures,
// timeouts and an open breaker are returned as errors; every HTTP status is
// handed back to the caller.
func (t *Transport) Do(
	ctx context.Context,
	method, path, authorization string,
	body any,
) (*Response, error) {
	op := method + " " + strings.SplitN(path, "?", 2)[0]

	var payload []byte
	if body != nil {
		bts, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("could not encode %s body: %w", op, err)
		}
		payload = bts
	}

	out, err := t.breaker.Execute(func() (interface{}, error) {
		resp, err := t.roundTrip(ctx, op, method, path, authorization, payload)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	switch {
	case err == nil, errors.Is(err, errServerStatus):
		return out.(*Response), nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, newError(KindTransient, op, 0, err)
	default:
		return nil, err
	}
}

func (t *Transport) roundTrip(
	ctx context.Context,
	op, method, path, authorization string,
	payload []byte,
) (*Response, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, fmt.Errorf("could not create %s request: %w", op, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	start := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bts, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, err)
	}

	log.Debug("request", "op", op, "status", resp.StatusCode, "took", time.Since(start))
	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bts,
	}, nil
}

func transportError(op string, err error) *Error {
	e := newError(KindTransient, op, 0, err)
	e.Timeout = errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err)
	return e
}
