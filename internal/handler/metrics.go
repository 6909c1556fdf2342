package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storywriter_registrations_total",
		Help: "Total number of successful user registrations.",
	})

	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storywriter_logins_total",
		Help: "Total number of login attempts by status.",
	}, []string{"status"})

	tokenVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storywriter_token_verifications_total",
		Help: "Total number of access token verification attempts by status.",
	}, []string{"status"})

	chapterRunsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storywriter_chapter_runs_requested_total",
		Help: "Total number of accepted chapter generation requests.",
	})

	progressSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storywriter_progress_websockets",
		Help: "Number of open progress websocket connections.",
	})
)
