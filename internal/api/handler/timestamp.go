package handler

import (
	"time"

	"github.com/labstack/echo/v4"
)

const ctxRequestTime = "request_time"

// requestTime is the server receive time of the request, fixed on first use
// so every derived value shares one timestamp.
func requestTime(c echo.Context) time.Time {
	if t, ok := c.Get(ctxRequestTime).(time.Time); ok {
		return t
	}
	now := time.Now().UTC()
	c.Set(ctxRequestTime, now)
	return now
}
