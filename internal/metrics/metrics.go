// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 配信サイクルやディスパッチャ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordCycleRun(result string)
	RecordCycleDuration(duration time.Duration)
	RecordDelivery(status string)
	RecordGenerationFailure()
	ObserveChannelSend(channel string, success bool)
	RecordHTTPStatus(statusCode int)
}

// サイクル実行結果のラベル値。
const (
	CycleResultSuccess = "success"
	CycleResultLocked  = "locked"
	CycleResultError   = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycleRuns          *prometheus.CounterVec
	cycleDuration      prometheus.Histogram
	deliveries         *prometheus.CounterVec
	generationFailures prometheus.Counter
	channelSends       *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devotion_cycle_runs_total",
			Help: "配信サイクルの実行回数（結果別）",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devotion_cycle_duration_seconds",
			Help:    "配信サイクル1回の所要時間（秒）",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devotion_deliveries_total",
			Help: "終端状態別の配信レコード数",
		}, []string{"status"}),
		generationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devotion_generation_failures_total",
			Help: "本文生成に失敗してスキップしたユーザー数",
		}),
		channelSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devotion_channel_sends_total",
			Help: "チャネル別の送信結果",
		}, []string{"channel", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devotion_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.cycleRuns,
		c.cycleDuration,
		c.deliveries,
		c.generationFailures,
		c.channelSends,
		c.httpStatus,
	)

	return c
}

// RecordCycleRun はサイクルの実行結果を記録する。
func (c *Collector) RecordCycleRun(result string) {
	c.cycleRuns.WithLabelValues(result).Inc()
}

// RecordCycleDuration はサイクルの所要時間を記録する。
func (c *Collector) RecordCycleDuration(duration time.Duration) {
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordDelivery は配信レコードの終端状態を記録する。
func (c *Collector) RecordDelivery(status string) {
	c.deliveries.WithLabelValues(status).Inc()
}

// RecordGenerationFailure は本文生成の失敗を記録する。
func (c *Collector) RecordGenerationFailure() {
	c.generationFailures.Inc()
}

// ObserveChannelSend はチャネルごとの送信結果を記録する。
func (c *Collector) ObserveChannelSend(channel string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.channelSends.WithLabelValues(channel, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordCycleRun(string)             {}
func (NopCollector) RecordCycleDuration(time.Duration) {}
func (NopCollector) RecordDelivery(string)             {}
func (NopCollector) RecordGenerationFailure()          {}
func (NopCollector) ObserveChannelSend(string, bool)   {}
func (NopCollector) RecordHTTPStatus(int)              {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はregの内容を返すPrometheusスクレイプ用のハンドラー。
// スクレイプ自体の回数と処理中の数もreg上にpromhttp_metric_handler_*として記録する。
// 収集に失敗したメトリクスがあっても、残りは返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	}))
}
