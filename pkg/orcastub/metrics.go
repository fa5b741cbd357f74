package orcastub

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type serverMetrics struct {
	requests *prometheus.CounterVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	f := promauto.With(reg)
	return &serverMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orcastub",
			Name:      "requests_total",
			Help:      "Requests handled, by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}
}

// count is a middleware counting requests.
func (m *serverMetrics) count(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)

		code := c.Response().Status
		if herr, ok := err.(*echo.HTTPError); ok {
			code = herr.Code
		} else if err != nil {
			code = 500
		}
		m.requests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(code)).Inc()
		return err
	}
}
