// Package observability records per-route request metrics, writes one JSON
// access line per request and serves the counters in text exposition format.
package observability

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"examportal/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

type actionKey struct {
	Action  string
	Outcome string
}

// examActions maps exam-engine routes to the action name used in metrics.
var examActions = map[string]string{
	"POST /api/v1/exams/{id}/start":                  "start",
	"PUT /api/v1/attempts/{id}/answers/{questionID}": "answer",
	"POST /api/v1/attempts/{id}/submit":              "submit",
	"POST /api/v1/attempts/{id}/grade":               "grade",
	"POST /api/v1/exams/{id}/publish":                "publish",
	"POST /api/v1/exams/{id}/archive":                "archive",
}

type Collector struct {
	db *sql.DB

	mu           sync.RWMutex
	requestStats map[key]stat
	actions      map[actionKey]int64
	startedAt    time.Time
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:           db,
		requestStats: make(map[key]stat),
		actions:      make(map[actionKey]int64),
		startedAt:    time.Now(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := auth.WithUserSlot(r.Context())
		next.ServeHTTP(rec, r.WithContext(ctx))

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := routePattern(r)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		if action, ok := examActions[r.Method+" "+path]; ok {
			c.actions[actionKey{Action: action, Outcome: outcome(rec.status)}]++
		}
		c.mu.Unlock()

		userID := int64(0)
		if u, ok := auth.RecordedUser(ctx); ok {
			userID = u.ID
		} else if u, ok := auth.CurrentUser(r.Context()); ok {
			userID = u.ID
		}

		entry := map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"user_id":    userID,
			"attempt_id": extractAttemptID(r.URL.Path),
			"method":     r.Method,
			"path":       path,
			"status":     rec.status,
			"latency_ms": latencyMS,
			"remote_ip":  strings.TrimSpace(r.RemoteAddr),
		}
		b, _ := json.Marshal(entry)
		log.Printf("%s", string(b))
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	actionsCopy := make(map[actionKey]int64, len(c.actions))
	for k, v := range c.actions {
		actionsCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# examportal metrics\n")
	sb.WriteString("# TYPE examportal_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("examportal_uptime_seconds %.0f\n", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE examportal_http_requests_total counter\n")
	sb.WriteString("# TYPE examportal_http_request_latency_ms_sum counter\n")
	sb.WriteString("# TYPE examportal_http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=\"%s\",path=\"%s\",status=\"%d\"", k.Method, k.Path, k.Status)
		sb.WriteString(fmt.Sprintf("examportal_http_requests_total{%s} %d\n", labels, s.Count))
		sb.WriteString(fmt.Sprintf("examportal_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS))
		avg := 0.0
		if s.Count > 0 {
			avg = s.LatencyMS / float64(s.Count)
		}
		sb.WriteString(fmt.Sprintf("examportal_http_request_latency_ms_avg{%s} %.3f\n", labels, avg))
	}

	akeys := make([]actionKey, 0, len(actionsCopy))
	for k := range actionsCopy {
		akeys = append(akeys, k)
	}
	sort.Slice(akeys, func(i, j int) bool {
		if akeys[i].Action != akeys[j].Action {
			return akeys[i].Action < akeys[j].Action
		}
		return akeys[i].Outcome < akeys[j].Outcome
	})
	sb.WriteString("# TYPE examportal_exam_actions_total counter\n")
	for _, k := range akeys {
		sb.WriteString(fmt.Sprintf("examportal_exam_actions_total{action=\"%s\",outcome=\"%s\"} %d\n", k.Action, k.Outcome, actionsCopy[k]))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE examportal_db_open_connections gauge\n")
		sb.WriteString(fmt.Sprintf("examportal_db_open_connections %d\n", dbs.OpenConnections))
		sb.WriteString("# TYPE examportal_db_in_use_connections gauge\n")
		sb.WriteString(fmt.Sprintf("examportal_db_in_use_connections %d\n", dbs.InUse))
		sb.WriteString("# TYPE examportal_db_wait_count counter\n")
		sb.WriteString(fmt.Sprintf("examportal_db_wait_count %d\n", dbs.WaitCount))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// routePattern prefers the matched chi pattern and falls back to replacing
// numeric segments for unmatched paths.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func extractAttemptID(path string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "attempts" {
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}

func outcome(status int) string {
	switch {
	case status < 400:
		return "ok"
	case status == http.StatusForbidden:
		return "not_open"
	case status == http.StatusConflict:
		return "invalid_state"
	case status == http.StatusUnprocessableEntity:
		return "deadline_exceeded"
	case status < 500:
		return "rejected"
	default:
		return "error"
	}
}
