package attendance

import (
	"context"
	"fmt"
	"strings"
)

// RosterEntry is one student's tentative credit before submission.
type RosterEntry struct {
	StudentID string `json:"student_id" validate:"required"`
	Name      string `json:"name"`
	RollNo    string `json:"roll_no"`
	Hours     int    `json:"hours" validate:"min=0"`
}

// Roster is the working list for one attendance-taking operation. Methods
// return a new roster and leave the receiver untouched.
type Roster struct {
	Cap     int           `json:"duration"`
	Entries []RosterEntry `json:"students"`
}

// CapPolicy decides how hours move when the duration cap changes.
type CapPolicy string

const (
	// SnapToBounds sends any credited student to the new cap and keeps
	// zero at zero. Partial credit is not preserved.
	SnapToBounds CapPolicy = "snap"
	// Proportional rescales hours by newCap/oldCap, rounding half up.
	Proportional CapPolicy = "proportional"
)

// ParseCapPolicy accepts "snap" or "proportional"; anything else is snap.
func ParseCapPolicy(s string) CapPolicy {
	if CapPolicy(strings.ToLower(s)) == Proportional {
		return Proportional
	}
	return SnapToBounds
}

// RosterBuilder produces rosters from the directory.
type RosterBuilder struct {
	repo     *Repository
	observer Observer
}

// NewRosterBuilder creates a builder.
func NewRosterBuilder(repo *Repository, observer Observer) *RosterBuilder {
	return &RosterBuilder{repo: repo, observer: observerOrNop(observer)}
}

// BuildRoster lists every student enrolled in subjectCode with full credit.
func (b *RosterBuilder) BuildRoster(ctx context.Context, subjectCode string, durationCap int) (Roster, error) {
	var flds []FieldError
	if !ValidSubjectCode(subjectCode) {
		flds = append(flds, FieldError{Field: "subject_code", Error: "invalid subject code"})
	}
	if durationCap < 1 {
		flds = append(flds, FieldError{Field: "duration", Error: "must be at least 1"})
	}
	if len(flds) > 0 {
		return Roster{}, newValidationError(flds...)
	}

	students, err := b.repo.EnrolledStudents(ctx, subjectCode)
	if err != nil {
		return Roster{}, &PersistenceError{Op: "list students for " + subjectCode, Err: err}
	}
	r := Roster{Cap: durationCap, Entries: make([]RosterEntry, 0, len(students))}
	for _, st := range students {
		name, roll, gaps := projectStudent(st)
		for _, g := range gaps {
			b.observer.DirectoryDefaulted(g)
		}
		r.Entries = append(r.Entries, RosterEntry{
			StudentID: st.ID,
			Name:      name,
			RollNo:    roll,
			Hours:     durationCap,
		})
	}
	return r, nil
}

// AdjustHours adds delta to one student's hours, clamped to [0, Cap].
// Unknown ids leave the roster unchanged.
func (r Roster) AdjustHours(studentID string, delta int) Roster {
	out := r.clone()
	for i := range out.Entries {
		if out.Entries[i].StudentID != studentID {
			continue
		}
		out.Entries[i].Hours = clamp(out.Entries[i].Hours+delta, 0, out.Cap)
	}
	return out
}

// ChangeCap switches the duration cap and moves hours per policy.
func (r Roster) ChangeCap(newCap int, policy CapPolicy) (Roster, error) {
	if newCap < 1 {
		return r, newValidationError(FieldError{Field: "duration", Error: "must be at least 1"})
	}
	out := r.clone()
	oldCap := r.Cap
	for i := range out.Entries {
		h := out.Entries[i].Hours
		switch {
		case h <= 0:
			h = 0
		case policy == Proportional && oldCap > 0:
			h = (2*h*newCap + oldCap) / (2 * oldCap)
		default:
			h = newCap
		}
		out.Entries[i].Hours = clamp(h, 0, newCap)
	}
	out.Cap = newCap
	return out, nil
}

// Filter returns entries whose name contains query, case-insensitively.
// An empty query returns every entry.
func (r Roster) Filter(query string) []RosterEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]RosterEntry(nil), r.Entries...)
	}
	var out []RosterEntry
	for _, e := range r.Entries {
		if strings.Contains(strings.ToLower(e.Name), q) {
			out = append(out, e)
		}
	}
	return out
}

// TotalHours sums the hours currently granted.
func (r Roster) TotalHours() int {
	total := 0
	for _, e := range r.Entries {
		total += e.Hours
	}
	return total
}

func (r Roster) clone() Roster {
	return Roster{Cap: r.Cap, Entries: append([]RosterEntry(nil), r.Entries...)}
}

func (r Roster) String() string {
	return fmt.Sprintf("roster(cap=%d, students=%d, hours=%d)", r.Cap, len(r.Entries), r.TotalHours())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
