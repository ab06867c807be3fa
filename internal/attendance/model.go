package attendance

import "time"

// Status is the derived per-student outcome of one session.
type Status string

const (
	StatusAbsent  Status = "Absent"
	StatusPartial Status = "Partial"
	StatusPresent Status = "Present"
)

// DeriveStatus maps attended hours against the session cap.
func DeriveStatus(attended, max int) Status {
	switch {
	case attended <= 0:
		return StatusAbsent
	case attended >= max:
		return StatusPresent
	default:
		return StatusPartial
	}
}

// Origin records how a session reached the store.
const (
	OriginCloud  = "cloud"
	OriginOutbox = "outbox"
)

// Student is a directory entry as stored in the users collection.
type Student struct {
	ID               string   `json:"-" bson:"-" firestore:"-"`
	Name             string   `json:"name" bson:"name" firestore:"name"`
	Email            string   `json:"email" bson:"email" firestore:"email"`
	RollNo           string   `json:"rollNo" bson:"rollNo" firestore:"rollNo"`
	Role             string   `json:"role" bson:"role" firestore:"role"`
	EnrolledSubjects []string `json:"enrolledSubjects" bson:"enrolledSubjects" firestore:"enrolledSubjects"`
}

// Subject is a catalogue entry from meta_subjects.
type Subject struct {
	Code       string `json:"code" bson:"code" firestore:"code"`
	Name       string `json:"name" bson:"name" firestore:"name"`
	College    string `json:"college" bson:"college" firestore:"college"`
	Department string `json:"dept" bson:"dept" firestore:"dept"`
	Semester   string `json:"semester" bson:"semester" firestore:"semester"`
}

// Record is one student's line in a session.
type Record struct {
	StudentID     string `json:"studentId" bson:"studentId" firestore:"studentId"`
	Name          string `json:"name" bson:"name" firestore:"name"`
	RollNo        string `json:"rollNo" bson:"rollNo" firestore:"rollNo"`
	Status        Status `json:"status" bson:"status" firestore:"status"`
	AttendedHours int    `json:"attendedHours" bson:"attendedHours" firestore:"attendedHours"`
	MaxHours      int    `json:"maxHours" bson:"maxHours" firestore:"maxHours"`
}

// Session is one taught session of one subject on one calendar date.
// It is written once and never mutated.
type Session struct {
	Key             string    `json:"key" bson:"key" firestore:"key"`
	Subject         string    `json:"subject" bson:"subject" firestore:"subject"`
	SubjectCode     string    `json:"subjectCode" bson:"subjectCode" firestore:"subjectCode"`
	Date            time.Time `json:"date" bson:"date" firestore:"date,serverTimestamp"`
	DateString      string    `json:"dateString" bson:"dateString" firestore:"dateString"`
	Duration        int       `json:"duration" bson:"duration" firestore:"duration"`
	TotalStudents   int       `json:"totalStudents" bson:"totalStudents" firestore:"totalStudents"`
	TotalHoursGiven int       `json:"totalHoursGiven" bson:"totalHoursGiven" firestore:"totalHoursGiven"`
	Origin          string    `json:"origin,omitempty" bson:"origin,omitempty" firestore:"origin,omitempty"`
	Records         []Record  `json:"attendanceRecord" bson:"attendanceRecord" firestore:"attendanceRecord"`
}

// PresentCount counts records with any credited hours, Partial included.
func (s Session) PresentCount() int {
	n := 0
	for _, r := range s.Records {
		if r.AttendedHours > 0 {
			n++
		}
	}
	return n
}

// StudentIDs lists the students recorded in the session.
func (s Session) StudentIDs() []string {
	ids := make([]string, 0, len(s.Records))
	for _, r := range s.Records {
		ids = append(ids, r.StudentID)
	}
	return ids
}

// Totals is an hours tally with its percentage rounded to one decimal.
type Totals struct {
	Possible   int     `json:"totalHoursPossible"`
	Earned     int     `json:"totalHoursEarned"`
	Percentage float64 `json:"percentage"`
}

// SubjectTotals is the per-subject bucket of Stats.
type SubjectTotals struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Totals
}

// Stats is a student's standing across the whole session history.
type Stats struct {
	StudentID string                   `json:"studentId"`
	Totals    Totals                   `json:"totals"`
	Subjects  map[string]SubjectTotals `json:"subjects"`
}
