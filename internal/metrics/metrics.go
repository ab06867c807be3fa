// Package metrics exposes ledger counters to Prometheus and logs the
// events the attendance package reports through its Observer hook.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"ledger/internal/attendance"
)

// Observer implements attendance.Observer.
type Observer struct {
	sessions   *prometheus.CounterVec
	hours      prometheus.Counter
	duplicates prometheus.Counter
	skipped    prometheus.Counter
	defaults   *prometheus.CounterVec
}

var _ attendance.Observer = (*Observer)(nil)

// New registers the ledger collectors on reg.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sessions_recorded_total",
			Help: "Sessions accepted, by destination.",
		}, []string{"destination"}),
		hours: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_hours_given_total",
			Help: "Attended hours credited across recorded sessions.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_duplicate_sessions_total",
			Help: "Submissions rejected because the session key was taken.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_records_skipped_total",
			Help: "Stored records ignored while reading history.",
		}),
		defaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_directory_defaults_total",
			Help: "Directory fields replaced by a default, by field.",
		}, []string{"field"}),
	}
	reg.MustRegister(o.sessions, o.hours, o.duplicates, o.skipped, o.defaults)
	return o
}

func (o *Observer) SessionRecorded(s attendance.Session, queued bool) {
	dest := "store"
	if queued {
		dest = "outbox"
	}
	o.sessions.WithLabelValues(dest).Inc()
	o.hours.Add(float64(s.TotalHoursGiven))
	log.Printf("session %s recorded (%s): students=%d hours=%d", s.Key, dest, s.TotalStudents, s.TotalHoursGiven)
}

func (o *Observer) DuplicateRejected(key string) {
	o.duplicates.Inc()
	log.Printf("session %s rejected: already recorded", key)
}

func (o *Observer) RecordSkipped(err error) {
	o.skipped.Inc()
	log.Printf("skipping record: %v", err)
}

func (o *Observer) DirectoryDefaulted(err *attendance.PartialDirectoryDataError) {
	o.defaults.WithLabelValues(err.Field).Inc()
}
