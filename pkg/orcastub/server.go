// Package orcastub is a small orchestration service, which runs tasks following a Scenario.
//
// It serves the same REST API as the real service:
//
//   - POST /tasks : submit a task
//   - GET /tasks/:taskId : status of a task
//   - PUT /tasks/:taskId/cancel : cancel a task
//
// and GET /metrics for Prometheus.
package orcastub

import (
	"github.com/labstack/echo/v4"
	"github.com/opst/taskmon/pkg/echoutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type config struct {
	secret   []byte
	registry *prometheus.Registry
	loglevel string
}

type Option func(*config) *config

// WithSecret requires bearer tokens signed with secret. See IssueToken.
//
// Without this, requests are not authenticated.
func WithSecret(secret []byte) Option {
	return func(c *config) *config {
		c.secret = secret
		return c
	}
}

// WithRegistry sets the registry for metrics of the server.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *config) *config {
		c.registry = reg
		return c
	}
}

// WithLogLevel sets log level: debug, info, warn, error or off.
func WithLogLevel(level string) Option {
	return func(c *config) *config {
		c.loglevel = level
		return c
	}
}

// New creates a server running tasks in store.
//
// Tasks proceed by the clock of the store. Tokens are verified by the clock as well.
func New(store *Store, options ...Option) *echo.Echo {
	conf := &config{
		registry: prometheus.NewRegistry(),
		loglevel: "warn",
	}
	for _, opt := range options {
		conf = opt(conf)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	echoutil.SetLevel(e, conf.loglevel)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		e.Logger.Debug(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	m := newServerMetrics(conf.registry)
	e.GET(
		"/metrics",
		echo.WrapHandler(promhttp.HandlerFor(conf.registry, promhttp.HandlerOpts{})),
	)

	api := e.Group("/tasks", m.count)
	if conf.secret != nil {
		api.Use(Authenticate(conf.secret, store.clock))
	}
	api.POST("", PostTaskHandler(store))
	api.GET("/:taskId", GetTaskHandler(store, "taskId"))
	api.PUT("/:taskId/cancel", CancelTaskHandler(store, "taskId"))

	return e
}
