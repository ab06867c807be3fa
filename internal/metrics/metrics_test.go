package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/attendance"
)

// counterValues flattens gathered counters into name{label=value} keys.
func counterValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out
}

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	o.SessionRecorded(attendance.Session{Key: "CS101_2024-03-01", TotalHoursGiven: 3}, false)
	o.SessionRecorded(attendance.Session{Key: "CS101_2024-03-02", TotalHoursGiven: 1}, true)
	o.SessionRecorded(attendance.Session{Key: "CS101_2024-03-03", TotalHoursGiven: 2}, false)
	o.DuplicateRejected("CS101_2024-03-01")
	o.RecordSkipped(errors.New("bad"))
	o.DirectoryDefaulted(&attendance.PartialDirectoryDataError{StudentID: "s1", Field: "rollNo", Default: "N/A"})
	o.DirectoryDefaulted(&attendance.PartialDirectoryDataError{StudentID: "s2", Field: "rollNo", Default: "N/A"})

	got := counterValues(t, reg)
	assert.Equal(t, 2.0, got["ledger_sessions_recorded_total{destination=store}"])
	assert.Equal(t, 1.0, got["ledger_sessions_recorded_total{destination=outbox}"])
	assert.Equal(t, 6.0, got["ledger_hours_given_total"])
	assert.Equal(t, 1.0, got["ledger_duplicate_sessions_total"])
	assert.Equal(t, 1.0, got["ledger_records_skipped_total"])
	assert.Equal(t, 2.0, got["ledger_directory_defaults_total{field=rollNo}"])
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
