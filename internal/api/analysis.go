package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/menta2k/paddy-monitor/internal/report"
	"github.com/menta2k/paddy-monitor/internal/store"
)

// interFieldComparison lists the caller's results captured within the
// ten-day window around period_date.
func (s *Server) interFieldComparison(c echo.Context) error {
	period, err := time.Parse(dateLayout, c.QueryParam("period_date"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("period_date must be YYYY-MM-DD"))
	}
	from, to := report.ComparisonWindow(period)

	rows, err := s.store.ListResults(c.Request().Context(), store.ResultFilter{
		OwnerID: owner(c),
		From:    from,
		To:      to,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"from":    from.Format(dateLayout),
		"to":      to.Format(dateLayout),
		"results": resultViews(rows),
	})
}

func (s *Server) heatmap(c echo.Context) error {
	ind, filter, err := indicatorQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	rows, err := s.store.ListResults(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"indicator": ind,
		"points":    report.Heatmap(rows, ind),
	})
}

func (s *Server) regionalStats(c echo.Context) error {
	ind, filter, err := indicatorQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	rows, err := s.store.ListResults(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"indicator": ind,
		"regions":   report.RegionalStats(rows, ind),
	})
}

// indicatorQuery validates ?indicator=&from=&to= for the caller
func indicatorQuery(c echo.Context) (report.Indicator, store.ResultFilter, error) {
	filter := store.ResultFilter{OwnerID: owner(c)}

	ind, err := report.ParseIndicator(c.QueryParam("indicator"))
	if errors.Is(err, report.ErrUnknownIndicator) {
		return "", filter, fmt.Errorf("%v; supported: %v", err, report.Indicators())
	}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := c.QueryParam(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return "", filter, fmt.Errorf("%s must be YYYY-MM-DD", p.name)
		}
		*p.dst = t
	}
	return ind, filter, nil
}
