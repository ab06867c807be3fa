package attendance

import (
	"context"
	"errors"
	"regexp"
	"time"

	"ledger/internal/docstore"
)

// DateLayout is the calendar-date format used in session keys.
const DateLayout = "2006-01-02"

// Subject codes never contain the key separator.
var subjectCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]*$`)

// ValidSubjectCode reports whether code may be used in a session key.
func ValidSubjectCode(code string) bool {
	return subjectCodePattern.MatchString(code)
}

// SessionKey is the deterministic identity of a subject's session on a
// calendar date. The date is taken as-is; callers convert to the ledger's
// location first.
func SessionKey(subjectCode string, date time.Time) string {
	return subjectCode + "_" + date.Format(DateLayout)
}

// Guard enforces one session per subject per calendar date.
type Guard struct {
	repo *Repository
}

// NewGuard creates a guard over the session collection.
func NewGuard(repo *Repository) *Guard {
	return &Guard{repo: repo}
}

// Exists reports whether a session is already stored at key.
func (g *Guard) Exists(ctx context.Context, key string) (bool, error) {
	err := g.repo.store.Get(ctx, SessionsCollection, key, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, docstore.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
