package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "farmgate_stream_clients",
		Help: "Number of clients connected to the flag change stream",
	})
	pushCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farmgate_stream_push_total",
		Help: "Total number of flag changes pushed to stream clients",
	})
	loadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farmgate_module_load_duration_seconds",
		Help:    "Duration of single module loads.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"result"})
	loadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmgate_module_load_failures_total",
		Help: "Module loads that failed, by path.",
	}, []string{"path"})
	featureModules = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "farmgate_feature_modules_loaded",
		Help: "Modules resolved by the last load of a feature.",
	}, []string{"feature"})
)

type prometheusObserver struct {
	onlineGauge prometheus.Gauge
	pushCounter prometheus.Counter
}

func NewPrometheusObserver() HubObserver {
	return &prometheusObserver{
		onlineGauge: onlineGauge,
		pushCounter: pushCounter,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncOnline() {
	p.onlineGauge.Inc()
}

func (p *prometheusObserver) DecOnline() {
	p.onlineGauge.Dec()
}

func (p *prometheusObserver) RecordPush() {
	p.pushCounter.Inc()
}

type loaderObserver struct{}

func NewLoaderObserver() LoaderObserver {
	return loaderObserver{}
}

func (loaderObserver) ObserveLoad(path string, seconds float64, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
		loadFailures.WithLabelValues(path).Inc()
	}
	loadDuration.WithLabelValues(result).Observe(seconds)
}

func (loaderObserver) RecordFeatureLoad(feature string, loaded, failed int) {
	featureModules.WithLabelValues(feature).Set(float64(loaded))
}
