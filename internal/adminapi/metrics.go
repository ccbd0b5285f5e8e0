package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/metrics"
)

func registerMetricsRoutes() {
	webserver.ApiGET("/metrics/names", listMetricNames)
	webserver.ApiGET("/metrics/series", getMetricSeries)
}

func listMetricNames(c echo.Context) error {
	names := metrics.Names()
	current := make(map[string]int64, len(names))
	for _, n := range names {
		current[n] = metrics.Get(n)
	}
	return ok(c, current)
}

// getMetricSeries returns stored samples of one metric. start and end are
// unix seconds and default to the last hour.
func getMetricSeries(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name is required", nil)
	}
	end := time.Now().Unix()
	if v := c.QueryParam("end"); v != "" {
		end = cast.ToInt64(v)
	}
	start := end - 3600
	if v := c.QueryParam("start"); v != "" {
		start = cast.ToInt64(v)
	}
	if start > end {
		return fail(c, http.StatusBadRequest, "INVALID_RANGE", "start must not be after end", nil)
	}
	points, err := metrics.Query(name, start, end)
	if err != nil {
		return fail(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "Metrics storage unavailable", err.Error())
	}
	return ok(c, map[string]interface{}{"name": name, "points": points})
}
