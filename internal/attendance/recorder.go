package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ledger/internal/docstore"
	"ledger/internal/queue"
)

// SubmitRequest is a finalized roster ready to become a session.
type SubmitRequest struct {
	SubjectCode string        `json:"subject_code" validate:"required,subjectcode"`
	SubjectName string        `json:"subject_name"`
	Date        time.Time     `json:"date"`
	Duration    int           `json:"duration" validate:"min=1"`
	Roster      []RosterEntry `json:"students" validate:"dive"`
	// AllowEmpty permits a session with no students.
	AllowEmpty bool `json:"allow_empty"`
}

// Result of a submission. Queued sessions sit in the outbox until replayed.
type Result struct {
	Session Session `json:"session"`
	Queued  bool    `json:"queued"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("subjectcode", func(fl validator.FieldLevel) bool {
		return ValidSubjectCode(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

func validateSubmit(req SubmitRequest) error {
	var flds []FieldError
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			msg := "failed " + fe.Tag()
			if fe.Param() != "" {
				msg += "=" + fe.Param()
			}
			flds = append(flds, FieldError{Field: field, Error: msg})
		}
	}
	if len(req.Roster) == 0 && !req.AllowEmpty {
		flds = append(flds, FieldError{Field: "students", Error: "roster is empty"})
	}
	seen := make(map[string]bool, len(req.Roster))
	for i, e := range req.Roster {
		if req.Duration >= 1 && e.Hours > req.Duration {
			flds = append(flds, FieldError{Field: fmt.Sprintf("students[%d].hours", i), Error: fmt.Sprintf("exceeds duration %d", req.Duration)})
		}
		if e.StudentID != "" && seen[e.StudentID] {
			flds = append(flds, FieldError{Field: fmt.Sprintf("students[%d].student_id", i), Error: "duplicate student"})
		}
		seen[e.StudentID] = true
	}
	if len(flds) > 0 {
		return newValidationError(flds...)
	}
	return nil
}

// Recorder turns rosters into sessions and writes each exactly once.
type Recorder struct {
	repo     *Repository
	guard    *Guard
	conn     Connectivity
	outbox   Outbox
	cache    StatsCache
	events   queue.Queue
	observer Observer
	now      func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithOutbox enables store-and-forward when the store is unreachable.
func WithOutbox(o Outbox) RecorderOption { return func(r *Recorder) { r.outbox = o } }

// WithStatsCache invalidates cached stats after each write.
func WithStatsCache(c StatsCache) RecorderOption { return func(r *Recorder) { r.cache = c } }

// WithEvents publishes a session.recorded message after each write.
func WithEvents(q queue.Queue) RecorderOption { return func(r *Recorder) { r.events = q } }

// WithObserver sets the observability hook.
func WithObserver(o Observer) RecorderOption { return func(r *Recorder) { r.observer = observerOrNop(o) } }

// WithConnectivity replaces the default store ping probe.
func WithConnectivity(c Connectivity) RecorderOption { return func(r *Recorder) { r.conn = c } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RecorderOption { return func(r *Recorder) { r.now = now } }

// NewRecorder creates a recorder.
func NewRecorder(repo *Repository, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		repo:     repo,
		guard:    NewGuard(repo),
		conn:     StoreProbe{Store: repo.store},
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates, builds and persists one session.
//
// When online, an existence check runs first and the write itself is a
// conditional create, so a racing writer loses with DuplicateSessionError
// rather than overwriting. When offline, or when the write fails, the
// session goes to the outbox if one is configured.
func (rc *Recorder) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	if err := validateSubmit(req); err != nil {
		return Result{}, err
	}
	now := rc.now().UTC()
	date := req.Date
	if date.IsZero() {
		date = now
	}
	s := buildSession(req, date.In(rc.repo.loc), now)

	if !rc.conn.Online(ctx) {
		return rc.enqueue(ctx, s, ErrOffline)
	}
	exists, err := rc.guard.Exists(ctx, s.Key)
	if err != nil {
		return rc.enqueue(ctx, s, err)
	}
	if exists {
		rc.observer.DuplicateRejected(s.Key)
		return Result{}, &DuplicateSessionError{Key: s.Key}
	}
	if s.Subject == "" {
		s.Subject = rc.subjectName(ctx, s.SubjectCode)
	}
	if err := rc.repo.CreateSession(ctx, s); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			rc.observer.DuplicateRejected(s.Key)
			return Result{}, &DuplicateSessionError{Key: s.Key}
		}
		return rc.enqueue(ctx, s, err)
	}
	rc.afterWrite(ctx, s)
	rc.observer.SessionRecorded(s, false)
	return Result{Session: s}, nil
}

// Replay writes a session that was held in the outbox. It goes through
// the same conditional create as Submit.
func (rc *Recorder) Replay(ctx context.Context, s Session) error {
	s.Origin = OriginOutbox
	if err := rc.repo.CreateSession(ctx, s); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			rc.observer.DuplicateRejected(s.Key)
			return &DuplicateSessionError{Key: s.Key}
		}
		return &PersistenceError{Key: s.Key, Op: "replay session", Err: err}
	}
	rc.afterWrite(ctx, s)
	rc.observer.SessionRecorded(s, false)
	return nil
}

func (rc *Recorder) enqueue(ctx context.Context, s Session, cause error) (Result, error) {
	if rc.outbox == nil {
		return Result{}, &PersistenceError{Key: s.Key, Op: "write session", Err: cause}
	}
	s.Origin = OriginOutbox
	if s.Subject == "" {
		s.Subject = s.SubjectCode
	}
	if err := rc.outbox.Enqueue(ctx, s); err != nil {
		return Result{}, &PersistenceError{Key: s.Key, Op: "enqueue session", Err: errors.Join(cause, err)}
	}
	log.Printf("session %s held in outbox: %v", s.Key, cause)
	rc.observer.SessionRecorded(s, true)
	return Result{Session: s, Queued: true}, nil
}

func (rc *Recorder) afterWrite(ctx context.Context, s Session) {
	if rc.cache != nil {
		if err := rc.cache.Invalidate(ctx, s.StudentIDs()...); err != nil {
			log.Printf("stats cache invalidate for %s failed: %v", s.Key, err)
		}
	}
	if rc.events != nil {
		msg, err := NewSessionEvent(s)
		if err == nil {
			err = rc.events.Publish(ctx, msg)
		}
		if err != nil {
			log.Printf("publish %s for %s failed: %v", EventSessionRecorded, s.Key, err)
		}
	}
}

func (rc *Recorder) subjectName(ctx context.Context, code string) string {
	sub, ok, err := rc.repo.SubjectByCode(ctx, code)
	if err != nil {
		log.Printf("subject lookup %s failed: %v", code, err)
	}
	if ok && sub.Name != "" {
		return sub.Name
	}
	return code
}

func buildSession(req SubmitRequest, date, now time.Time) Session {
	s := Session{
		Key:           SessionKey(req.SubjectCode, date),
		Subject:       strings.TrimSpace(req.SubjectName),
		SubjectCode:   req.SubjectCode,
		Date:          now,
		DateString:    date.Format(DateLayout),
		Duration:      req.Duration,
		TotalStudents: len(req.Roster),
		Origin:        OriginCloud,
		Records:       make([]Record, 0, len(req.Roster)),
	}
	for _, e := range req.Roster {
		name := e.Name
		if name == "" {
			name = UnknownName
		}
		roll := e.RollNo
		if roll == "" {
			roll = MissingRoll
		}
		s.Records = append(s.Records, Record{
			StudentID:     e.StudentID,
			Name:          name,
			RollNo:        roll,
			Status:        DeriveStatus(e.Hours, req.Duration),
			AttendedHours: e.Hours,
			MaxHours:      req.Duration,
		})
		s.TotalHoursGiven += e.Hours
	}
	return s
}
