package rest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/configs/profiles"
	"github.com/opst/taskmon/pkg/job"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Submitter sends a job to the orchestration service.
type Submitter interface {
	// Submit creates a task from a job.
	//
	// # Args
	//
	// - context.Context
	//
	// - application: owner of the task.
	//
	// - description: human readable summary of the task.
	//
	// - jobs: descriptors to be run in the order.
	//
	// # Returns
	//
	// - tasks.Reference: reference to the created task.
	//
	// - error: *SubmissionError
	//
	// Submit is never retried automatically; a retry can create the task twice.
	Submit(ctx context.Context, application string, description string, jobs []job.Descriptor) (tasks.Reference, error)
}

// Poller gets status of a task, once per call.
type Poller interface {
	// Poll gets the current status of the task.
	//
	// # Returns
	//
	// - tasks.Status: the whole snapshot of the task.
	//
	// - error: *PollError.
	// Kind is PollNotFound when the task is unknown, otherwise PollTransport.
	Poll(ctx context.Context, ref tasks.Reference) (tasks.Status, error)
}

// Canceler asks the orchestration service to cancel a task.
type Canceler interface {
	Cancel(ctx context.Context, taskId string) error
}

// TaskClient is the whole set of operations on tasks.
type TaskClient interface {
	Submitter
	Poller
	Canceler
}

type Client struct {
	httpclient *http.Client
	api        string
	token      string
	limiter    *rate.Limiter
	clock      clock.PassiveClock
}

var _ TaskClient = &Client{}

type Option func(*Client) *Client

// WithHTTPClient sets http.Client to be used.
//
// The client can be shared with other Clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) *Client {
		c.httpclient = hc
		return c
	}
}

// WithLimiter throttles requests.
//
// Pass the same limiter to Clients to throttle them as a whole.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) *Client {
		c.limiter = l
		return c
	}
}

// WithClock sets clock to stamp submission time.
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Client) *Client {
		c.clock = clk
		return c
	}
}

// create new client for Profile
//
// # Args
//
// - *profiles.Profile
//
// - ...Option
//
// # Return
//
// - *Client: created client
//
// - error: If given profile is invalid, ErrProfileInvalid is returned.
func NewClient(prof *profiles.Profile, options ...Option) (*Client, error) {
	if err := prof.Verify(); err != nil {
		return nil, err
	}

	c := &Client{
		httpclient: new(http.Client),
		api:        strings.TrimSuffix(prof.ApiRoot, "/"),
		token:      prof.Token,
		clock:      clock.RealClock{},
	}
	for _, opt := range options {
		c = opt(c)
	}

	if prof.Cert.CA != "" {
		hc, err := trustCa(c.httpclient, []string{prof.Cert.CA})
		if err != nil {
			return nil, err
		}
		c.httpclient = hc
	}

	return c, nil
}

// build URL with path
func (c *Client) apipath(path ...string) string {
	trimmed := make([]string, 0, len(path)+1)
	trimmed = append(trimmed, c.api)
	for _, p := range path {
		trimmed = append(trimmed, strings.TrimPrefix(strings.TrimSuffix(p, "/"), "/"))
	}
	return strings.Join(trimmed, "/")
}

func (c *Client) do(ctx context.Context, method string, url string, body io.Reader) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.httpclient.Do(req)
}

// trustCa returns a copy of hc trusting cacerts in addition.
func trustCa(hc *http.Client, cacerts []string) (*http.Client, error) {
	if len(cacerts) <= 0 {
		return hc, nil
	}

	tran := http.DefaultTransport
	if hc.Transport != nil {
		tran = hc.Transport
	}

	httptran, ok := tran.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("failed to add ca cert")
	}
	httptran = httptran.Clone()

	tcc := httptran.TLSClientConfig.Clone()
	if tcc == nil {
		tcc = &tls.Config{}
	}

	rootcas := tcc.RootCAs
	if rootcas == nil {
		if sys, err := x509.SystemCertPool(); err == nil {
			rootcas = sys
		} else {
			rootcas = x509.NewCertPool()
		}
		tcc.RootCAs = rootcas
	}
	for _, ca := range cacerts {
		bin, err := base64.StdEncoding.DecodeString(ca)
		if err != nil {
			return nil, err
		}

		if !rootcas.AppendCertsFromPEM(bin) {
			return nil, fmt.Errorf("failed to add cert")
		}
	}

	httptran.TLSClientConfig = tcc

	copied := *hc
	copied.Transport = httptran
	return &copied, nil
}
