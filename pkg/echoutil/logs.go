package echoutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// LogHandlerFunc is a middleware logging each request and its response.
//
// Requests are logged in debug level. Responses are logged in info level,
// and in warn level when the handler returns an error.
func LogHandlerFunc(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		meth := req.Method
		path := req.URL.Path
		begin := time.Now()
		c.Logger().Debugf("< request %s %s", meth, path)

		err := next(c)

		elapsed := time.Since(begin)
		if err != nil {
			c.Logger().Warnf("> response %s %s in %v / error = %v", meth, path, elapsed, err)
			return err
		}
		c.Logger().Infof(
			"> response %s %s status = %d in %v",
			meth, path, c.Response().Status, elapsed,
		)
		return nil
	}
}

// ParseLevel maps a level name (debug, info, warn, error or off) to log.Lvl.
//
// Empty name is warn.
func ParseLevel(loglevel string) (log.Lvl, error) {
	switch strings.ToLower(strings.TrimSpace(loglevel)) {
	case "debug":
		return log.DEBUG, nil
	case "info":
		return log.INFO, nil
	case "warn", "":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	default:
		return log.WARN, fmt.Errorf("unknown loglevel: %s", loglevel)
	}
}

// SetLevel sets level of e's logger. Unknown level falls back to warn.
func SetLevel(e *echo.Echo, loglevel string) {
	lvl, err := ParseLevel(loglevel)
	e.Logger.SetLevel(lvl)
	if err != nil {
		e.Logger.Warnf("%s. fall-backed to warn", err)
	}
}
