package attendance

import (
	"context"
	"log"
	"math"
)

// Aggregator computes a student's standing over the full session history.
type Aggregator struct {
	repo     *Repository
	cache    StatsCache
	observer Observer
}

// NewAggregator creates an aggregator. cache may be nil.
func NewAggregator(repo *Repository, cache StatsCache, observer Observer) *Aggregator {
	return &Aggregator{repo: repo, cache: cache, observer: observerOrNop(observer)}
}

// Percent is earned/possible*100 rounded to one decimal, 0 when nothing was possible.
func Percent(earned, possible int) float64 {
	if possible == 0 {
		return 0
	}
	return math.Round(float64(earned)*1000/float64(possible)) / 10
}

// ForStudent scans every session and tallies the student's records.
// Sessions without a record for the student are not counted, so a subject
// the student never appeared in is absent from Subjects.
func (a *Aggregator) ForStudent(ctx context.Context, studentID string) (Stats, error) {
	if studentID == "" {
		return Stats{}, newValidationError(FieldError{Field: "student_id", Error: "required"})
	}
	var (
		gen      int64
		cachable bool
	)
	if a.cache != nil {
		if stats, ok, err := a.cache.Get(ctx, studentID); err != nil {
			log.Printf("stats cache get %s failed: %v", studentID, err)
		} else if ok {
			return stats, nil
		}
		var err error
		if gen, err = a.cache.Generation(ctx, studentID); err != nil {
			log.Printf("stats cache generation %s failed: %v", studentID, err)
		} else {
			cachable = true
		}
	}

	sessions, issues, err := a.repo.Sessions(ctx)
	if err != nil {
		return Stats{}, &PersistenceError{Op: "scan sessions", Err: err}
	}
	for _, issue := range issues {
		a.observer.RecordSkipped(issue)
	}
	stats := Tally(studentID, sessions)

	if cachable {
		if err := a.cache.Put(ctx, stats, gen); err != nil {
			log.Printf("stats cache put %s failed: %v", studentID, err)
		}
	}
	return stats, nil
}

// Tally aggregates already-loaded sessions for one student.
func Tally(studentID string, sessions []Session) Stats {
	stats := Stats{StudentID: studentID, Subjects: make(map[string]SubjectTotals)}
	for _, s := range sessions {
		rec, ok := findRecord(s, studentID)
		if !ok {
			continue
		}
		code := s.SubjectCode
		if code == "" {
			code = "Unknown"
		}
		bucket, seen := stats.Subjects[code]
		if !seen {
			name := s.Subject
			if name == "" {
				name = "Subject"
			}
			bucket = SubjectTotals{Code: code, Name: name}
		}
		bucket.Possible += rec.MaxHours
		bucket.Earned += rec.AttendedHours
		stats.Subjects[code] = bucket

		stats.Totals.Possible += rec.MaxHours
		stats.Totals.Earned += rec.AttendedHours
	}
	for code, bucket := range stats.Subjects {
		bucket.Percentage = Percent(bucket.Earned, bucket.Possible)
		stats.Subjects[code] = bucket
	}
	stats.Totals.Percentage = Percent(stats.Totals.Earned, stats.Totals.Possible)
	return stats
}

func findRecord(s Session, studentID string) (Record, bool) {
	for _, r := range s.Records {
		if r.StudentID == studentID {
			return r, true
		}
	}
	return Record{}, false
}
