// Package httpapi serves the attendance ledger over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledger/internal/attendance"
	"ledger/internal/auth"
	"ledger/internal/docstore"
	"ledger/internal/httpmiddleware"
	"ledger/internal/outbox"
)

// Replayer drains the offline outbox on demand.
type Replayer interface {
	Replay(ctx context.Context) (outbox.Report, error)
}

// HealthCheck reports one dependency's status.
type HealthCheck func(ctx context.Context) bool

// Deps wires the handler. Replayer, Limiter, Gatherer and Observer are optional.
type Deps struct {
	Repo       *attendance.Repository
	Roster     *attendance.RosterBuilder
	Recorder   *attendance.Recorder
	Aggregator *attendance.Aggregator
	Exporter   *attendance.Exporter
	Replayer   Replayer
	CapPolicy  attendance.CapPolicy
	Limiter    *httpmiddleware.SimpleTokenBucket
	Gatherer   prometheus.Gatherer
	Checks     map[string]HealthCheck
	Observer   attendance.Observer

	SigningKey string
	Issuer     string
}

// Handler holds the ledger services behind the routes.
type Handler struct {
	d Deps
}

func New(d Deps) *Handler {
	return &Handler{d: d}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	metrics := promhttp.Handler()
	if h.d.Gatherer != nil {
		metrics = promhttp.HandlerFor(h.d.Gatherer, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(metrics))
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1", auth.Bearer(h.d.SigningKey, h.d.Issuer))
	if h.d.Limiter != nil {
		v1.Use(h.d.Limiter.GinMiddlewareBy(func(c *gin.Context) string {
			claims, _ := auth.ClaimsFrom(c)
			return claims.Subject
		}))
	}
	faculty := auth.RequireRole(auth.RoleFaculty)

	v1.GET("/subjects/:code/roster", faculty, h.roster)
	v1.POST("/roster/cap", faculty, h.changeCap)
	v1.POST("/subjects/:code/sessions", faculty, h.submit)
	v1.GET("/subjects/:code/report", faculty, h.report)
	v1.GET("/sessions/:key", h.session)
	v1.GET("/students/:id/attendance", h.studentAttendance)
	v1.POST("/outbox/replay", faculty, h.replay)
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.d.Checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) roster(c *gin.Context) {
	duration := 1
	if v := c.Query("duration"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration must be an integer"})
			return
		}
		duration = parsed
	}
	r, err := h.d.Roster.BuildRoster(c.Request.Context(), c.Param("code"), duration)
	if err != nil {
		writeError(c, err)
		return
	}
	if q := c.Query("q"); q != "" {
		r.Entries = r.Filter(q)
	}
	c.JSON(http.StatusOK, r)
}

type changeCapRequest struct {
	Roster   attendance.Roster `json:"roster"`
	Duration int               `json:"duration"`
	Policy   string            `json:"policy"`
}

func (h *Handler) changeCap(c *gin.Context) {
	var req changeCapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	policy := h.d.CapPolicy
	if req.Policy != "" {
		policy = attendance.ParseCapPolicy(req.Policy)
	}
	r, err := req.Roster.ChangeCap(req.Duration, policy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type submitRequest struct {
	SubjectName string                   `json:"subject_name"`
	Date        string                   `json:"date"`
	Duration    int                      `json:"duration"`
	Students    []attendance.RosterEntry `json:"students"`
	AllowEmpty  bool                     `json:"allow_empty"`
}

func (h *Handler) submit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := attendance.SubmitRequest{
		SubjectCode: c.Param("code"),
		SubjectName: body.SubjectName,
		Duration:    body.Duration,
		Roster:      body.Students,
		AllowEmpty:  body.AllowEmpty,
	}
	if body.Date != "" {
		d, err := time.ParseInLocation(attendance.DateLayout, body.Date, h.d.Repo.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		req.Date = d
	}

	res, err := h.d.Recorder.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Queued {
		c.JSON(http.StatusAccepted, gin.H{"queued": true, "message": "Saved to device", "session": res.Session})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"queued": false, "message": "Saved to cloud", "session": res.Session})
}

func (h *Handler) session(c *gin.Context) {
	s, issues, err := h.d.Repo.GetSession(c.Request.Context(), c.Param("key"))
	if errors.Is(err, docstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		writeError(c, &attendance.PersistenceError{Key: c.Param("key"), Op: "get session", Err: err})
		return
	}
	if h.d.Observer != nil {
		for _, issue := range issues {
			h.d.Observer.RecordSkipped(issue)
		}
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) studentAttendance(c *gin.Context) {
	id := c.Param("id")
	claims, _ := auth.ClaimsFrom(c)
	if !claims.IsFaculty() && claims.Subject != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "students may only read their own attendance"})
		return
	}
	stats, err := h.d.Aggregator.ForStudent(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) report(c *gin.Context) {
	code := c.Param("code")
	var buf bytes.Buffer
	if _, err := h.d.Exporter.WriteSubjectReport(c.Request.Context(), code, &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+attendance.ReportFileName(code)+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handler) replay(c *gin.Context) {
	if h.d.Replayer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "outbox not configured"})
		return
	}
	rep, err := h.d.Replayer.Replay(c.Request.Context())
	if errors.Is(err, outbox.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Printf("outbox replay failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outbox replay failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func writeError(c *gin.Context, err error) {
	var (
		verr *attendance.ValidationError
		dup  *attendance.DuplicateSessionError
		nsf  *attendance.NoSessionsFoundError
		perr *attendance.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "fields": verr.Fields})
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{"error": "Attendance already marked for this subject today", "key": dup.Key})
	case errors.As(err, &nsf):
		c.JSON(http.StatusNotFound, gin.H{"error": "No attendance data found for " + nsf.SubjectCode})
	case errors.As(err, &perr):
		log.Printf("persistence failure: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attendance store unavailable", "key": perr.Key})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		log.Printf("unexpected error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
