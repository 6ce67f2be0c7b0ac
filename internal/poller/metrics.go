package poller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rssreader/internal/feed"
)

// Metrics records poll activity.
type Metrics struct {
	rounds        prometheus.Counter
	feedErrors    *prometheus.CounterVec
	postsMerged   prometheus.Counter
	roundDuration prometheus.Histogram
}

// NewMetrics registers poll metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		rounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rssreader",
			Subsystem: "poll",
			Name:      "rounds_total",
			Help:      "Completed poll rounds.",
		}),
		feedErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rssreader",
			Subsystem: "poll",
			Name:      "feed_errors_total",
			Help:      "Feed polls that failed, by error kind.",
		}, []string{"kind"}),
		postsMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rssreader",
			Subsystem: "poll",
			Name:      "posts_merged_total",
			Help:      "Posts added to the store by polling.",
		}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rssreader",
			Subsystem: "poll",
			Name:      "round_duration_seconds",
			Help:      "Wall time of a poll round.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeRound(elapsed time.Duration) {
	m.rounds.Inc()
	m.roundDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeError(kind feed.ErrorKind) {
	m.feedErrors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) observeMerged(n int) {
	if n > 0 {
		m.postsMerged.Add(float64(n))
	}
}
