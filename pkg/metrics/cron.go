package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron tracks scheduled job runs. Like Domain, a nil Cron records nothing.
type Cron struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewCron registers the cron job metrics on reg.
func NewCron(reg prometheus.Registerer) *Cron {
	if reg == nil {
		return &Cron{}
	}
	c := &Cron{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_cron_job_runs_total",
			Help: "Cron job runs by job and result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockflow_cron_job_duration_seconds",
			Help:    "Cron job run time.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockflow_cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
	}
	reg.MustRegister(c.runs, c.duration, c.lastSuccess)
	return c
}

// ObserveRun records one run of job. A nil err counts as success.
func (c *Cron) ObserveRun(job string, elapsed time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, "failure").Inc()
		return
	}
	c.runs.WithLabelValues(job, "success").Inc()
	c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
