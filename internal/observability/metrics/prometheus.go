// Package metrics provides Prometheus metrics for the visit log service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RecordsCreated    prometheus.Counter
	RecordsUpdated    prometheus.Counter
	RecordsDeleted    prometheus.Counter
	SearchDuration    prometheus.Histogram
	ImportRows        *prometheus.CounterVec
	ExportsRun        prometheus.Counter
	MigrationsRun     *prometheus.CounterVec
	ValidationFailed  prometheus.Counter
	DuplicatePatients prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		RecordsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visit_records_created_total",
			Help: "Total visit records created",
		}),
		RecordsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visit_records_updated_total",
			Help: "Total visit records updated",
		}),
		RecordsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visit_records_deleted_total",
			Help: "Total visit records deleted",
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "record_search_duration_seconds",
			Help:    "Record search duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ImportRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spreadsheet_import_rows_total",
			Help: "Spreadsheet import rows by outcome",
		}, []string{"outcome"}),
		ExportsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spreadsheet_exports_total",
			Help: "Total spreadsheet exports",
		}),
		MigrationsRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schema_migrations_total",
			Help: "Schema migration runs by source version",
		}, []string{"from_version"}),
		ValidationFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "record_validation_failures_total",
			Help: "Total rejected record submissions",
		}),
		DuplicatePatients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duplicate_patient_id_total",
			Help: "Total duplicate patient ID conflicts",
		}),
	}

	prometheus.MustRegister(
		m.RecordsCreated,
		m.RecordsUpdated,
		m.RecordsDeleted,
		m.SearchDuration,
		m.ImportRows,
		m.ExportsRun,
		m.MigrationsRun,
		m.ValidationFailed,
		m.DuplicatePatients,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
