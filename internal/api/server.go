// Package api exposes the analytics pipeline over HTTP: JSON endpoints for
// aggregates, model output and refresh control, plus debug chart pages.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/identity.report/internal/aggregate"
	"github.com/banshee-data/identity.report/internal/anomaly"
	"github.com/banshee-data/identity.report/internal/cluster"
	"github.com/banshee-data/identity.report/internal/db"
	"github.com/banshee-data/identity.report/internal/forecast"
	"github.com/banshee-data/identity.report/internal/httputil"
	"github.com/banshee-data/identity.report/internal/indices"
	"github.com/banshee-data/identity.report/internal/ingest"
	"github.com/banshee-data/identity.report/internal/monitoring"
	"github.com/banshee-data/identity.report/internal/pipeline"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	pipeline *pipeline.Pipeline
	db       *db.DB // nil when persistence is disabled
	dataDir  string
}

func NewServer(p *pipeline.Pipeline, database *db.DB, dataDir string) *Server {
	return &Server{
		pipeline: p,
		db:       database,
		dataDir:  dataDir,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/pincode/", s.showPincode)
	mux.HandleFunc("/api/regions", s.listRegions)
	mux.HandleFunc("/api/top-pincodes", s.listTopPincodes)
	mux.HandleFunc("/api/anomalies", s.listAnomalies)
	mux.HandleFunc("/api/anomalies/temporal", s.listTemporalAnomalies)
	mux.HandleFunc("/api/temporal", s.showTemporal)
	mux.HandleFunc("/api/clusters", s.showClusters)
	mux.HandleFunc("/api/forecast", s.showForecast)
	mux.HandleFunc("/api/dashboard", s.showDashboard)
	mux.HandleFunc("/api/refresh", s.triggerRefresh)
	mux.HandleFunc("/api/refreshes", s.listRefreshes)
	mux.HandleFunc("/debug/charts/clusters", s.clusterChartHandler)
	mux.HandleFunc("/debug/charts/forecast", s.forecastChartHandler)
	mux.HandleFunc("/debug/report/clusters.png", s.clusterReportHandler)
	mux.HandleFunc("/debug/report/forecast.png", s.forecastReportHandler)
	return mux
}

// Summary is the /api/summary payload: headline totals for the current
// snapshot plus the per-tier pincode distribution.
type Summary struct {
	SnapshotID   string                  `json:"snapshot_id"`
	BuiltAt      time.Time               `json:"built_at"`
	Pincodes     int                     `json:"pincodes"`
	Regions      int                     `json:"regions"`
	BioUpdates   int64                   `json:"bio_updates"`
	DemoUpdates  int64                   `json:"demo_updates"`
	Enrolments   int64                   `json:"enrolments"`
	TierCounts   map[indices.Tier]int    `json:"tier_counts"`
	TopRegion    string                  `json:"top_region"`
	RowCounts    map[ingest.Family]int64 `json:"row_counts"`
	RejectedRows int64                   `json:"rejected_rows"`
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap, err := s.pipeline.Snapshot()
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}

	summary := Summary{
		SnapshotID: snap.ID,
		BuiltAt:    snap.BuiltAt,
		Pincodes:   len(snap.Pincodes),
		Regions:    len(snap.Regions),
		TierCounts: make(map[indices.Tier]int),
		RowCounts:  snap.RowCounts,
	}
	for _, rc := range snap.Rejects {
		summary.RejectedRows += rc.Total()
	}

	var topUpdates int64
	for _, reg := range snap.Regions {
		summary.BioUpdates += reg.BioUpdates()
		summary.DemoUpdates += reg.DemoUpdates()
		summary.Enrolments += reg.Enrolments()
		if u := reg.TotalUpdates(); u > topUpdates {
			topUpdates = u
			summary.TopRegion = reg.Region
		}
	}
	for _, p := range snap.Pincodes {
		summary.TierCounts[indices.TierFor(indices.IVI(p.Totals), indices.BSI(p.Totals))]++
	}

	httputil.WriteJSONOK(w, summary)
}

func (s *Server) showPincode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/pincode/")
	code, sub, _ := strings.Cut(rest, "/")
	if code == "" {
		httputil.BadRequest(w, "missing pincode")
		return
	}

	switch sub {
	case "":
		indexed, err := s.pipeline.PincodeAggregate(code)
		if err != nil {
			s.writeQueryError(w, err)
			return
		}
		httputil.WriteJSONOK(w, indexed)
	case "history":
		if s.db == nil {
			httputil.NotFound(w, "persistence disabled")
			return
		}
		history, err := s.db.PincodeHistory(code, parseLimit(r, 30))
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, history)
	default:
		httputil.NotFound(w, "unknown pincode resource")
	}
}

func (s *Server) listRegions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	regions, err := s.pipeline.RegionAggregates()
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, regions)
}

func (s *Server) listTopPincodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	indexed, err := s.pipeline.IndexedPincodes()
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, indices.TopByUpdateProbability(indexed, parseLimit(r, 10)))
}

func (s *Server) listAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	scores, err := s.pipeline.Anomalies(parseLimit(r, 0))
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, scores)
}

func (s *Server) listTemporalAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	anomalies, err := s.pipeline.TemporalAnomalies()
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, anomalies)
}

// Temporal is the /api/temporal payload: the daily, weekly, monthly and
// weekday rollups per record family.
type Temporal struct {
	Daily    map[ingest.Family][]aggregate.DailyCount   `json:"daily"`
	Weekly   map[ingest.Family][]aggregate.WeeklyCount  `json:"weekly"`
	Monthly  map[ingest.Family][]aggregate.MonthlyCount `json:"monthly"`
	Weekdays map[ingest.Family][]aggregate.WeekdayCount `json:"weekdays"`
}

func (s *Server) showTemporal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap, err := s.pipeline.Snapshot()
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, Temporal{
		Daily:    snap.Daily,
		Weekly:   snap.Weekly,
		Monthly:  snap.Monthly,
		Weekdays: snap.Weekdays,
	})
}

func (s *Server) showClusters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	result, err := s.pipeline.Clusters()
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, result)
}

func (s *Server) showForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	metric := ingest.Family(r.URL.Query().Get("metric"))
	if metric == "" {
		metric = ingest.Biometric
	}
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		v, err := strconv.Atoi(d)
		if err != nil || v < 1 || v > 365 {
			httputil.BadRequest(w, "days must be an integer between 1 and 365")
			return
		}
		days = v
	}

	series, err := s.pipeline.Forecast(metric, days)
	if err != nil {
		if errors.Is(err, pipeline.ErrUnknownMetric) {
			httputil.BadRequest(w, err.Error())
			return
		}
		s.writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, series)
}

// Dashboard bundles all three models' output in one response. The models
// are independent so they run concurrently.
type Dashboard struct {
	Anomalies []anomaly.Score  `json:"anomalies"`
	Clusters  *cluster.Result  `json:"clusters"`
	Forecast  *forecast.Series `json:"forecast"`
}

func (s *Server) showDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var dash Dashboard
	g, _ := errgroup.WithContext(r.Context())
	g.Go(func() error {
		scores, err := s.pipeline.Anomalies(parseLimit(r, 20))
		dash.Anomalies = scores
		return err
	})
	g.Go(func() error {
		result, err := s.pipeline.Clusters()
		dash.Clusters = result
		return err
	})
	g.Go(func() error {
		series, err := s.pipeline.Forecast(ingest.Biometric, 30)
		dash.Forecast = series
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeQueryError(w, err)
		return
	}
	httputil.WriteJSONOK(w, dash)
}

func (s *Server) triggerRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	summary, err := s.pipeline.Refresh(ctx, s.dataDir)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if s.db != nil {
		if snap, err := s.pipeline.Snapshot(); err == nil {
			if err := s.db.SaveSnapshot(snap); err != nil {
				monitoring.Logf("api: failed to persist snapshot %s: %v", snap.ID, err)
			}
		}
	}
	httputil.WriteJSONOK(w, summary)
}

func (s *Server) listRefreshes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "persistence disabled")
		return
	}
	records, err := s.db.Refreshes(parseLimit(r, 100))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, records)
}

// writeQueryError maps pipeline query errors onto HTTP statuses.
func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNoSnapshot):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, pipeline.ErrNotFound):
		httputil.NotFound(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}
