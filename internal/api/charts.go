package api

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/identity.report/internal/httputil"
	"github.com/banshee-data/identity.report/internal/ingest"
	"github.com/banshee-data/identity.report/internal/report"
)

// clusterChartHandler renders the region clusters as an HTML scatter plot in
// projection space using go-echarts. Debugging-only endpoint; the production
// UI consumes /api/clusters as JSON.
func (s *Server) clusterChartHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.Clusters()
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("no cluster data: %v", err))
		return
	}

	// One series per cluster so each gets its own colour and legend entry.
	series := make(map[int][]opts.ScatterData)
	labels := make(map[int]string)
	for _, a := range result.Assignments {
		series[a.Cluster] = append(series[a.Cluster], opts.ScatterData{
			Name:  a.Region,
			Value: []interface{}{a.X, a.Y},
		})
		labels[a.Cluster] = a.Label
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Region Clusters", Theme: "dark", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Region Clusters", Subtitle: fmt.Sprintf("regions=%d clusters=%d", len(result.Assignments), len(result.Profiles))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "PC1", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "PC2", NameLocation: "middle", NameGap: 30}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	for cl := 0; cl < len(result.Profiles); cl++ {
		name := fmt.Sprintf("%d: %s", cl, labels[cl])
		scatter.AddSeries(name, series[cl], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// forecastChartHandler renders one family's history and projection as an
// HTML line chart. Query params: metric (default biometric), days (1-365).
func (s *Server) forecastChartHandler(w http.ResponseWriter, r *http.Request) {
	metric := ingest.Family(r.URL.Query().Get("metric"))
	if metric == "" {
		metric = ingest.Biometric
	}
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		if v, err := strconv.Atoi(d); err == nil && v >= 1 && v <= 365 {
			days = v
		}
	}

	series, err := s.pipeline.Forecast(metric, days)
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("no forecast data: %v", err))
		return
	}

	var dates []string
	var observed, projected, lower, upper []opts.LineData
	for _, p := range series.Historical {
		dates = append(dates, p.Date.Format("2006-01-02"))
		observed = append(observed, opts.LineData{Value: p.Value})
		projected = append(projected, opts.LineData{Value: nil})
		lower = append(lower, opts.LineData{Value: nil})
		upper = append(upper, opts.LineData{Value: nil})
	}
	for _, p := range series.Forecast {
		dates = append(dates, p.Date.Format("2006-01-02"))
		observed = append(observed, opts.LineData{Value: nil})
		projected = append(projected, opts.LineData{Value: p.Value})
		lower = append(lower, opts.LineData{Value: p.Lower})
		upper = append(upper, opts.LineData{Value: p.Upper})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Update Forecast", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Daily %s updates", metric), Subtitle: fmt.Sprintf("history=%d forecast=%d days", len(series.Historical), len(series.Forecast))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(dates).
		AddSeries("observed", observed).
		AddSeries("forecast", projected).
		AddSeries("lower", lower, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"})).
		AddSeries("upper", upper, charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// clusterReportHandler serves the same cluster view as a static PNG, for
// embedding in written reports. Rendering goes through a temp file because
// the plot backend writes to paths, not writers.
func (s *Server) clusterReportHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.Clusters()
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("no cluster data: %v", err))
		return
	}

	tmp, err := os.CreateTemp("", "clusters-*.png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render report: %v", err))
		return
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)
	if err := report.ClusterScatter(result, path); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render report: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

// forecastReportHandler serves the forecast view as a static PNG. Query
// params match the echarts handler: metric (default biometric), days
// (1-365).
func (s *Server) forecastReportHandler(w http.ResponseWriter, r *http.Request) {
	metric := ingest.Family(r.URL.Query().Get("metric"))
	if metric == "" {
		metric = ingest.Biometric
	}
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		if v, err := strconv.Atoi(d); err == nil && v >= 1 && v <= 365 {
			days = v
		}
	}

	series, err := s.pipeline.Forecast(metric, days)
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("no forecast data: %v", err))
		return
	}

	tmp, err := os.CreateTemp("", "forecast-*.png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render report: %v", err))
		return
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)
	if err := report.ForecastPlot(series, fmt.Sprintf("Daily %s updates", metric), path); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render report: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}
