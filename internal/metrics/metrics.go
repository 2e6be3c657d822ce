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
// ルーター、イベントチャネル、フィード組み立ての各層から利用する。
type MetricsCollector interface {
	RecordRegistryFallback(service string)
	RecordUpstreamStatus(service string, statusCode int)
	RecordUpstreamLatency(service string, duration time.Duration)
	RecordEventPublished(kind string)
	RecordEventPublishFailure(kind string)
	RecordEventApplied(kind string, changed bool)
	RecordEventApplyFailure(kind string)
	RecordEventRejected()
	RecordFeedCacheHit()
	RecordFeedCacheMiss()
	RecordFeedRefresh(duration time.Duration, items int)
	RecordFeedRefreshFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registryFallback *prometheus.CounterVec
	upstreamStatus   *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	eventsPublished  *prometheus.CounterVec
	publishFailures  *prometheus.CounterVec
	eventsApplied    *prometheus.CounterVec
	applyFailures    *prometheus.CounterVec
	eventsRejected   prometheus.Counter
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	refreshLatency   prometheus.Histogram
	refreshItems     prometheus.Histogram
	refreshFailures  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registryFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewfeed_registry_fallback_total",
			Help: "ヘルスフィルタ済み一覧が空でフィルタなし一覧にフォールバックした回数",
		}, []string{"service"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewfeed_upstream_status_total",
			Help: "下流サービス呼び出しのステータスコード別件数（0は通信失敗）",
		}, []string{"service", "status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brewfeed_upstream_latency_seconds",
			Help:    "下流サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewfeed_events_published_total",
			Help: "イベントチャネルへ発行したイベント数",
		}, []string{"kind"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewfeed_event_publish_failures_total",
			Help: "イベント発行に失敗した件数",
		}, []string{"kind"}),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewfeed_events_applied_total",
			Help: "いいね状態ストアに適用したイベント数（changed=falseは冪等なno-op）",
		}, []string{"kind", "changed"}),
		applyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewfeed_event_apply_failures_total",
			Help: "適用に失敗し破棄（ack済み）されたイベント数",
		}, []string{"kind"}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewfeed_events_rejected_total",
			Help: "デコードできず破棄されたメッセージ数",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewfeed_feed_cache_hits_total",
			Help: "フィードキャッシュのヒット数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewfeed_feed_cache_misses_total",
			Help: "フィードキャッシュのミス数",
		}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brewfeed_feed_refresh_latency_seconds",
			Help:    "フィード再構築のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		refreshItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brewfeed_feed_refresh_items",
			Help:    "再構築したフィードの件数",
			Buckets: []float64{0, 1, 3, 10, 25, 50, 100},
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewfeed_feed_refresh_failures_total",
			Help: "フィード再構築に失敗した回数",
		}),
	}

	reg.MustRegister(
		c.registryFallback,
		c.upstreamStatus,
		c.upstreamLatency,
		c.eventsPublished,
		c.publishFailures,
		c.eventsApplied,
		c.applyFailures,
		c.eventsRejected,
		c.cacheHits,
		c.cacheMisses,
		c.refreshLatency,
		c.refreshItems,
		c.refreshFailures,
	)

	return c
}

// RecordRegistryFallback はフィルタなし一覧へのフォールバックを記録する。
func (c *Collector) RecordRegistryFallback(service string) {
	c.registryFallback.WithLabelValues(service).Inc()
}

// RecordUpstreamStatus は下流呼び出しのステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(service string, statusCode int) {
	c.upstreamStatus.WithLabelValues(service, strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency は下流呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(service string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordEventPublished はイベント発行成功を記録する。
func (c *Collector) RecordEventPublished(kind string) {
	c.eventsPublished.WithLabelValues(kind).Inc()
}

// RecordEventPublishFailure はイベント発行失敗を記録する。
func (c *Collector) RecordEventPublishFailure(kind string) {
	c.publishFailures.WithLabelValues(kind).Inc()
}

// RecordEventApplied はイベント適用を記録する。
func (c *Collector) RecordEventApplied(kind string, changed bool) {
	c.eventsApplied.WithLabelValues(kind, strconv.FormatBool(changed)).Inc()
}

// RecordEventApplyFailure はイベント適用失敗を記録する。
func (c *Collector) RecordEventApplyFailure(kind string) {
	c.applyFailures.WithLabelValues(kind).Inc()
}

// RecordEventRejected はデコード不能メッセージの破棄を記録する。
func (c *Collector) RecordEventRejected() {
	c.eventsRejected.Inc()
}

// RecordFeedCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordFeedCacheHit() {
	c.cacheHits.Inc()
}

// RecordFeedCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordFeedCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordFeedRefresh はフィード再構築のレイテンシと件数を記録する。
func (c *Collector) RecordFeedRefresh(duration time.Duration, items int) {
	c.refreshLatency.Observe(duration.Seconds())
	c.refreshItems.Observe(float64(items))
}

// RecordFeedRefreshFailure はフィード再構築失敗を記録する。
func (c *Collector) RecordFeedRefreshFailure() {
	c.refreshFailures.Inc()
}

// SetupMetricsRoute はPrometheusスクレイプ用のHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス不要な構成で使う。
type Nop struct{}

func (Nop) RecordRegistryFallback(string)               {}
func (Nop) RecordUpstreamStatus(string, int)            {}
func (Nop) RecordUpstreamLatency(string, time.Duration) {}
func (Nop) RecordEventPublished(string)                 {}
func (Nop) RecordEventPublishFailure(string)            {}
func (Nop) RecordEventApplied(string, bool)             {}
func (Nop) RecordEventApplyFailure(string)              {}
func (Nop) RecordEventRejected()                        {}
func (Nop) RecordFeedCacheHit()                         {}
func (Nop) RecordFeedCacheMiss()                        {}
func (Nop) RecordFeedRefresh(time.Duration, int)        {}
func (Nop) RecordFeedRefreshFailure()                   {}

// compile-time interface checks
var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = Nop{}
