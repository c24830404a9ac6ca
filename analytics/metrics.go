package analytics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"progressionkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// Metrics turns bus events into Prometheus series.
type Metrics struct {
	xpEvents       *prometheus.CounterVec
	xpAwarded      prometheus.Counter
	xpCorrected    prometheus.Counter
	levelUps       prometheus.Counter
	badges         *prometheus.CounterVec
	completions    *prometheus.CounterVec
	seasonsStarted prometheus.Counter
	walletSpent    prometheus.Counter
	activeUsers    prometheus.GaugeFunc
	dau            *DAU
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "progression"
	}
	m := &Metrics{
		xpEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "xp_events_total", Help: "Ledger entries appended, by action.",
		}, []string{"action"}),
		xpAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "xp_awarded_total", Help: "Positive XP credited.",
		}),
		xpCorrected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "xp_corrected_total", Help: "XP removed by corrective entries.",
		}),
		levelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "level_ups_total", Help: "Level increases.",
		}),
		badges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "badges_awarded_total", Help: "Badge grants, by badge.",
		}, []string{"badge"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "challenges_completed_total", Help: "Challenge completions, by challenge.",
		}, []string{"challenge"}),
		seasonsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "seasons_started_total", Help: "Seasons activated.",
		}),
		walletSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "wallet_spent_total", Help: "Currency spent from wallets.",
		}),
		dau: NewDAU(),
	}
	m.activeUsers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "daily_active_users", Help: "Distinct users with events today (UTC).",
	}, func() float64 { return float64(m.dau.Today()) })
	return m
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.xpEvents, m.xpAwarded, m.xpCorrected, m.levelUps, m.badges,
		m.completions, m.seasonsStarted, m.walletSpent, m.activeUsers,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handle matches the event bus handler signature.
func (m *Metrics) Handle(_ context.Context, e core.Event) { m.OnEvent(e) }

func (m *Metrics) OnEvent(e core.Event) {
	if e.UserID != "" {
		m.dau.OnEvent(e)
	}
	switch e.Type {
	case core.EventXPAwarded:
		m.xpEvents.WithLabelValues(string(e.Action)).Inc()
		if e.Delta > 0 {
			m.xpAwarded.Add(float64(e.Delta))
		} else if e.Delta < 0 {
			m.xpCorrected.Add(float64(-e.Delta))
		}
	case core.EventLevelUp:
		m.levelUps.Inc()
	case core.EventBadgeAwarded:
		m.badges.WithLabelValues(string(e.Badge)).Inc()
	case core.EventChallengeCompleted:
		m.completions.WithLabelValues(e.Challenge).Inc()
	case core.EventSeasonStarted:
		m.seasonsStarted.Inc()
	case core.EventWalletSpent:
		m.walletSpent.Add(float64(-e.Delta))
	}
}

var _ Hook = (*Metrics)(nil)
