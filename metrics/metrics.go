// Package metrics exposes operational counters for the marketplace
// over a Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the collectors the API server increments.
type Registry struct {
	reg *prometheus.Registry

	grievancesSubmitted prometheus.Counter
	bidsSubmitted       prometheus.Counter
	tasksAssigned       prometheus.Counter
	fundsReleased       prometheus.Counter
	requestsByKind      *prometheus.CounterVec
	grievancesByStatus  *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		grievancesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "grievflow_grievances_submitted_total",
			Help: "Grievances accepted into the marketplace.",
		}),
		bidsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "grievflow_bids_submitted_total",
			Help: "Bids recorded in the ledger.",
		}),
		tasksAssigned: factory.NewCounter(prometheus.CounterOpts{
			Name: "grievflow_tasks_assigned_total",
			Help: "Grievances assigned to a winning bid.",
		}),
		fundsReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "grievflow_funds_released_total",
			Help: "Escrow releases completed.",
		}),
		requestsByKind: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grievflow_request_errors_total",
			Help: "API errors by fault kind.",
		}, []string{"kind"}),
		grievancesByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grievflow_grievances_by_status",
			Help: "Current grievance count per lifecycle status.",
		}, []string{"status"}),
	}
}

func (r *Registry) IncGrievanceSubmitted() { r.grievancesSubmitted.Inc() }
func (r *Registry) IncBidSubmitted()       { r.bidsSubmitted.Inc() }
func (r *Registry) IncTaskAssigned()       { r.tasksAssigned.Inc() }
func (r *Registry) IncFundsReleased()      { r.fundsReleased.Inc() }

func (r *Registry) IncError(kind string) {
	r.requestsByKind.WithLabelValues(kind).Inc()
}

func (r *Registry) SetStatusCount(status string, n int) {
	r.grievancesByStatus.WithLabelValues(status).Set(float64(n))
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
