package attendance

import (
	"context"
	"fmt"
	"time"

	"ledger/internal/docstore"
)

// Collection names shared with the portal client.
const (
	SessionsCollection = "attendance_sessions"
	UsersCollection    = "users"
	SubjectsCollection = "meta_subjects"
)

// Repository reads and writes ledger documents through a docstore.
type Repository struct {
	store docstore.Store
	loc   *time.Location
}

// NewRepository creates a repo. loc is the calendar used for date strings
// and defaults to UTC.
func NewRepository(store docstore.Store, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.UTC
	}
	return &Repository{store: store, loc: loc}
}

// Location is the ledger's calendar.
func (r *Repository) Location() *time.Location { return r.loc }

// CreateSession writes a session only if its key is free.
func (r *Repository) CreateSession(ctx context.Context, s Session) error {
	return r.store.Create(ctx, SessionsCollection, s.Key, s)
}

// GetSession loads one session by key. Records that cannot be interpreted
// are left out of the session and returned as issues.
func (r *Repository) GetSession(ctx context.Context, key string) (Session, []error, error) {
	var st storedSession
	if err := r.store.Get(ctx, SessionsCollection, key, &st); err != nil {
		return Session{}, nil, err
	}
	s, issues := normalizeSession(key, st, r.loc)
	return s, issues, nil
}

// Sessions loads history matching filters. Records that cannot be
// interpreted are dropped and returned as issues alongside the sessions.
func (r *Repository) Sessions(ctx context.Context, filters ...docstore.Filter) ([]Session, []error, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{Collection: SessionsCollection, Filters: filters})
	if err != nil {
		return nil, nil, err
	}
	var (
		out    []Session
		issues []error
	)
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		var st storedSession
		if err := snap.DataTo(&st); err != nil {
			issues = append(issues, &MalformedRecordError{SessionKey: snap.Key(), Reason: fmt.Sprintf("undecodable session: %v", err)})
			continue
		}
		s, bad := normalizeSession(snap.Key(), st, r.loc)
		issues = append(issues, bad...)
		out = append(out, s)
	}
	return out, issues, nil
}

// EnrolledStudents returns students whose enrolled subjects include code,
// in the store's order.
func (r *Repository) EnrolledStudents(ctx context.Context, code string) ([]Student, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{
		Collection: UsersCollection,
		Filters: []docstore.Filter{
			docstore.Eq("role", "student"),
			docstore.ArrayContains("enrolledSubjects", code),
		},
	})
	if err != nil {
		return nil, err
	}
	students := make([]Student, 0, len(snaps))
	for _, snap := range snaps {
		var st Student
		if err := snap.DataTo(&st); err != nil {
			return nil, fmt.Errorf("decode student %s: %w", snap.Key(), err)
		}
		st.ID = snap.Key()
		students = append(students, st)
	}
	return students, nil
}

// SubjectByCode looks a subject up in the catalogue.
func (r *Repository) SubjectByCode(ctx context.Context, code string) (Subject, bool, error) {
	snaps, err := r.store.Query(ctx, docstore.Query{
		Collection: SubjectsCollection,
		Filters:    []docstore.Filter{docstore.Eq("code", code)},
		Limit:      1,
	})
	if err != nil || len(snaps) == 0 {
		return Subject{}, false, err
	}
	var sub Subject
	if err := snaps[0].DataTo(&sub); err != nil {
		return Subject{}, false, fmt.Errorf("decode subject %s: %w", code, err)
	}
	return sub, true, nil
}

// storedRecord accepts both the hourly layout and older records that only
// carried a status or a present flag.
type storedRecord struct {
	StudentID     string `json:"studentId" bson:"studentId" firestore:"studentId"`
	ID            string `json:"id" bson:"id" firestore:"id"`
	Name          string `json:"name" bson:"name" firestore:"name"`
	StudentName   string `json:"studentName" bson:"studentName" firestore:"studentName"`
	RollNo        string `json:"rollNo" bson:"rollNo" firestore:"rollNo"`
	Status        string `json:"status" bson:"status" firestore:"status"`
	Present       *bool  `json:"present" bson:"present" firestore:"present"`
	AttendedHours *int   `json:"attendedHours" bson:"attendedHours" firestore:"attendedHours"`
	MaxHours      *int   `json:"maxHours" bson:"maxHours" firestore:"maxHours"`
}

type storedSession struct {
	Subject     string         `json:"subject" bson:"subject" firestore:"subject"`
	SubjectCode string         `json:"subjectCode" bson:"subjectCode" firestore:"subjectCode"`
	Date        time.Time      `json:"date" bson:"date" firestore:"date"`
	DateString  string         `json:"dateString" bson:"dateString" firestore:"dateString"`
	Duration    *int           `json:"duration" bson:"duration" firestore:"duration"`
	Origin      string         `json:"origin" bson:"origin" firestore:"origin"`
	Records     []storedRecord `json:"attendanceRecord" bson:"attendanceRecord" firestore:"attendanceRecord"`
}

func normalizeSession(key string, st storedSession, loc *time.Location) (Session, []error) {
	s := Session{
		Key:         key,
		Subject:     st.Subject,
		SubjectCode: st.SubjectCode,
		Date:        st.Date,
		DateString:  st.DateString,
		Duration:    1,
		Origin:      st.Origin,
	}
	if st.Duration != nil && *st.Duration > 0 {
		s.Duration = *st.Duration
	}
	if s.DateString == "" && !st.Date.IsZero() {
		s.DateString = st.Date.In(loc).Format(DateLayout)
	}

	var issues []error
	for _, sr := range st.Records {
		rec, err := normalizeRecord(key, sr, s.Duration)
		if err != nil {
			issues = append(issues, err)
			continue
		}
		s.Records = append(s.Records, rec)
		s.TotalHoursGiven += rec.AttendedHours
	}
	s.TotalStudents = len(s.Records)
	return s, issues
}

func normalizeRecord(key string, sr storedRecord, duration int) (Record, error) {
	id := sr.StudentID
	if id == "" {
		id = sr.ID
	}
	if id == "" {
		return Record{}, &MalformedRecordError{SessionKey: key, Reason: "missing student id"}
	}
	max := duration
	if sr.MaxHours != nil {
		max = *sr.MaxHours
	}
	if max < 1 {
		return Record{}, &MalformedRecordError{SessionKey: key, StudentID: id, Reason: fmt.Sprintf("max hours %d below 1", max)}
	}

	var attended int
	switch {
	case sr.AttendedHours != nil:
		attended = *sr.AttendedHours
	case sr.Status == string(StatusPresent), sr.Present != nil && *sr.Present:
		attended = max
	}
	if attended < 0 || attended > max {
		return Record{}, &MalformedRecordError{SessionKey: key, StudentID: id, Reason: fmt.Sprintf("attended hours %d outside [0, %d]", attended, max)}
	}

	name := sr.Name
	if name == "" {
		name = sr.StudentName
	}
	if name == "" {
		name = UnknownName
	}
	return Record{
		StudentID:     id,
		Name:          name,
		RollNo:        sr.RollNo,
		Status:        DeriveStatus(attended, max),
		AttendedHours: attended,
		MaxHours:      max,
	}, nil
}
