package http

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/session"
)

const collectTimeout = 5 * time.Second

var (
	sessionsDesc = prometheus.NewDesc(
		"taskmaster_sessions",
		"Persisted sessions by status.",
		[]string{"status"}, nil,
	)
	tasksDesc = prometheus.NewDesc(
		"taskmaster_tasks",
		"Tasks across all persisted sessions by completion.",
		[]string{"state"}, nil,
	)
	collectErrorsDesc = prometheus.NewDesc(
		"taskmaster_sessions_collect_errors",
		"1 if the last session scrape failed to read the store.",
		nil, nil,
	)
)

// sessionCollector reads the store on every scrape.
type sessionCollector struct {
	sessions Sessions
	logger   *zap.Logger
}

func newSessionCollector(sessions Sessions, logger *zap.Logger) *sessionCollector {
	return &sessionCollector{sessions: sessions, logger: logger}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sessionsDesc
	ch <- tasksDesc
	ch <- collectErrorsDesc
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	list, err := c.sessions.List(ctx)
	if err != nil {
		c.logger.Warn("session scrape failed", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(collectErrorsDesc, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(collectErrorsDesc, prometheus.GaugeValue, 0)

	byStatus := map[session.Status]int{
		session.StatusActive:    0,
		session.StatusPaused:    0,
		session.StatusCompleted: 0,
	}
	var total, completed int
	for _, s := range list {
		byStatus[s.Status]++
		total += s.Tasks
		completed += s.Completed
	}

	for status, n := range byStatus {
		ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(n), string(status))
	}
	ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.GaugeValue, float64(completed), "completed")
	ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.GaugeValue, float64(total-completed), "open")
}
