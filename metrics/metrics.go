// Package metrics holds the prometheus collectors for transaction activity.
// Collectors live on a package registry rather than the global default so
// that embedding programs decide what to expose.
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "strata"

const (
	MetricTransactionsStarted   = "transactions_started_total"
	MetricTransactionsCommitted = "transactions_committed_total"
	MetricTransactionsCancelled = "transactions_cancelled_total"
	MetricTransactionsFailed    = "transactions_failed_total"
	MetricCommitDuration        = "commit_duration_seconds"
	MetricMainMerges            = "main_merges_total"
	MetricMergedObjects         = "main_merged_objects_total"
	MetricDroppedUpdates        = "commit_dropped_updates_total"
)

// Failure reasons for TransactionsFailed
const (
	ReasonOperation   = "operation"
	ReasonPersistence = "persistence"
	ReasonPanic       = "panic"
)

// Registry collects every strata metric.
var Registry = prometheus.NewRegistry()

var TransactionsStarted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricTransactionsStarted,
		Help:      "Transactions started, by scheduling mode.",
	},
	[]string{"mode"},
)

var TransactionsCommitted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricTransactionsCommitted,
		Help:      "Transactions whose changes reached the store.",
	},
)

var TransactionsCancelled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricTransactionsCancelled,
		Help:      "Transactions that finished with the implicit commit suppressed.",
	},
)

var TransactionsFailed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricTransactionsFailed,
		Help:      "Transactions that ended in an error or panic.",
	},
	[]string{"reason"},
)

var CommitDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricCommitDuration,
		Help:      "Time spent merging into Master and saving the store.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	},
)

var MainMerges = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricMainMerges,
		Help:      "Change sets merged into the Main context.",
	},
)

var MergedObjects = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricMergedObjects,
		Help:      "Objects inserted, updated or deleted in Main by merges.",
	},
)

var DroppedUpdates = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricDroppedUpdates,
		Help:      "Updates discarded at commit because the object was already deleted.",
	},
)

func init() {
	Registry.MustRegister(TransactionsStarted)
	Registry.MustRegister(TransactionsCommitted)
	Registry.MustRegister(TransactionsCancelled)
	Registry.MustRegister(TransactionsFailed)
	Registry.MustRegister(CommitDuration)
	Registry.MustRegister(MainMerges)
	Registry.MustRegister(MergedObjects)
	Registry.MustRegister(DroppedUpdates)
}

// Sample is one flattened metric value
type Sample struct {
	Name  string
	Value float64
}

// Snapshot gathers the registry and sums every family into a single value.
// Histograms report their observation count.
func Snapshot() ([]Sample, error) {
	families, err := Registry.Gather()
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(families))
	for _, fam := range families {
		samples = append(samples, Sample{Name: fam.GetName(), Value: familyValue(fam)})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples, nil
}

// Value returns the summed value of one family, or 0 if it has no samples yet.
func Value(name string) float64 {
	samples, err := Snapshot()
	if err != nil {
		return 0
	}
	for _, s := range samples {
		if s.Name == name || s.Name == namespace+"_"+name {
			return s.Value
		}
	}
	return 0
}

func familyValue(fam *dto.MetricFamily) float64 {
	var total float64
	for _, m := range fam.GetMetric() {
		switch fam.GetType() {
		case dto.MetricType_COUNTER:
			total += m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			total += m.GetGauge().GetValue()
		case dto.MetricType_HISTOGRAM:
			total += float64(m.GetHistogram().GetSampleCount())
		}
	}
	return total
}
