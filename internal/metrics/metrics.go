package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotWrites counts blob writes by the snapshot loop, by result.
	SnapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "snapshot_writes_total",
		Help:      "Collection snapshots written to the blob store.",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roster",
		Name:      "active_sessions",
		Help:      "Identities with a loaded roster.",
	})

	// AttendanceMarks counts individual presence marks, by status.
	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "attendance_marks_total",
		Help:      "Attendance marks recorded.",
	}, []string{"status"})

	MailDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "mail_deliveries_total",
		Help:      "Verification and reset mails handed to the mail backend.",
	}, []string{"kind", "result"})
)

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Status maps a presence flag to the "present"/"absent" label value.
func Status(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}
