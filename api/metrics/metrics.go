package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotesCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "kobocat_notes_created_total", Help: "Notes created"})
	NotesDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "kobocat_notes_deleted_total", Help: "Notes deleted"})

	ProfilesCreated      = promauto.NewCounter(prometheus.CounterOpts{Name: "kobocat_profiles_created_total", Help: "User profiles created"})
	OrganizationsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "kobocat_organizations_created_total", Help: "Organizations created"})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kobocat_validation_failures_total",
		Help: "Rejected profile and organization inputs, by field",
	}, []string{"field"})

	MirrorRefresh         = promauto.NewSummary(prometheus.SummaryOpts{Name: "kobocat_mirror_refresh", Help: "Submission mirror refreshes"})
	MirrorRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "kobocat_mirror_refresh_failures_total", Help: "Submission mirror refreshes that failed"})

	ActivationFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "kobocat_activation_failures_total", Help: "Activation messages that could not be dispatched"})
)
