package attendance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"ledger/internal/docstore"
)

// ReportHeader is the first line of every subject report.
const ReportHeader = "Date,Session ID,Total Students,Present Count,Student Attendance Details (Roll: Status)"

const reportDateLayout = "1/2/2006 15:04"

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// ReportFileName is the download name for a subject's report.
func ReportFileName(subjectCode string) string {
	return unsafeFileChars.ReplaceAllString(subjectCode, "_") + "_Attendance_Report.csv"
}

// Exporter renders a subject's session history as CSV.
type Exporter struct {
	repo     *Repository
	observer Observer
}

// NewExporter creates an exporter.
func NewExporter(repo *Repository, observer Observer) *Exporter {
	return &Exporter{repo: repo, observer: observerOrNop(observer)}
}

// ExportSubjectReport returns the report as a string.
func (e *Exporter) ExportSubjectReport(ctx context.Context, subjectCode string) (string, error) {
	var sb strings.Builder
	if _, err := e.WriteSubjectReport(ctx, subjectCode, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WriteSubjectReport writes the header and one row per session, most recent
// date first, ties broken by session key. It returns the data row count.
func (e *Exporter) WriteSubjectReport(ctx context.Context, subjectCode string, w io.Writer) (int, error) {
	code := strings.TrimSpace(subjectCode)
	if code == "" {
		return 0, newValidationError(FieldError{Field: "subject_code", Error: "required"})
	}
	sessions, issues, err := e.repo.Sessions(ctx, docstore.Eq("subjectCode", code))
	if err != nil {
		return 0, &PersistenceError{Op: "list sessions for " + code, Err: err}
	}
	for _, issue := range issues {
		e.observer.RecordSkipped(issue)
	}
	if len(sessions) == 0 {
		return 0, &NoSessionsFoundError{SubjectCode: code}
	}
	SortSessions(sessions)

	bw := bufio.NewWriter(w)
	bw.WriteString(ReportHeader)
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		bw.WriteByte('\n')
		bw.WriteString(reportRow(s, e.repo.loc))
	}
	bw.WriteByte('\n')
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("write report: %w", err)
	}
	return len(sessions), nil
}

// SortSessions orders by calendar date descending, then key ascending.
func SortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].DateString != sessions[j].DateString {
			return sessions[i].DateString > sessions[j].DateString
		}
		return sessions[i].Key < sessions[j].Key
	})
}

func reportRow(s Session, loc *time.Location) string {
	date := "Unknown Date"
	if !s.Date.IsZero() {
		date = s.Date.In(loc).Format(reportDateLayout)
	}
	details := make([]string, 0, len(s.Records))
	for _, r := range s.Records {
		roll := r.RollNo
		if roll == "" {
			roll = MissingRoll
		}
		details = append(details, fmt.Sprintf("%s (%s): %s", r.Name, roll, r.Status))
	}
	return strings.Join([]string{
		csvField(date),
		csvField(s.Key),
		strconv.Itoa(len(s.Records)),
		strconv.Itoa(s.PresentCount()),
		quoteField(strings.Join(details, "; ")),
	}, ",")
}

// csvField quotes only when the value needs it.
func csvField(v string) string {
	if strings.ContainsAny(v, ",\"\r\n") {
		return quoteField(v)
	}
	return v
}

// quoteField always quotes, doubling embedded quotes.
func quoteField(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}
