package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LoyaltyMetrics tracks the core presentation/redemption flows.
type LoyaltyMetrics struct {
	presentations  *prometheus.CounterVec
	promotions     *prometheus.CounterVec
	redemptions    *prometheus.CounterVec
	revokedEntries prometheus.Counter
	decays         prometheus.Counter
	activeScanSize prometheus.Gauge
}

var (
	loyaltyOnce     sync.Once
	loyaltyRegistry *LoyaltyMetrics
)

// Loyalty returns the lazily-initialised metrics registry for the service.
func Loyalty() *LoyaltyMetrics {
	loyaltyOnce.Do(func() {
		loyaltyRegistry = &LoyaltyMetrics{
			presentations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Name:      "presentations_total",
				Help:      "Terminal code presentations segmented by outcome.",
			}, []string{"outcome"}),
			promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Name:      "tier_promotions_total",
				Help:      "Tier promotions performed by the evaluator, by tier code.",
			}, []string{"tier"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Name:      "redemptions_total",
				Help:      "Benefit redemption attempts segmented by outcome.",
			}, []string{"outcome"}),
			revokedEntries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loyalty",
				Name:      "revoked_entries_total",
				Help:      "Ledger entries revoked by the cancellation-penalty process.",
			}),
			decays: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loyalty",
				Name:      "tier_decays_total",
				Help:      "Rank reductions applied by the inactivity-decay job.",
			}),
			activeScanSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loyalty",
				Name:      "otp_scan_population",
				Help:      "Active customers scanned during the last OTP resolution.",
			}),
		}
		prometheus.MustRegister(
			loyaltyRegistry.presentations,
			loyaltyRegistry.promotions,
			loyaltyRegistry.redemptions,
			loyaltyRegistry.revokedEntries,
			loyaltyRegistry.decays,
			loyaltyRegistry.activeScanSize,
		)
	})
	return loyaltyRegistry
}

// ObservePresentation records one presentation outcome
// (counted, duplicate, not_found).
func (m *LoyaltyMetrics) ObservePresentation(outcome string) {
	if m == nil {
		return
	}
	m.presentations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObservePromotion records one evaluator promotion.
func (m *LoyaltyMetrics) ObservePromotion(tierCode string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(normalizeLabel(tierCode)).Inc()
}

// ObserveRedemption records one redemption attempt outcome
// (accepted, rejected).
func (m *LoyaltyMetrics) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveRevocations adds the entries flipped by one penalty invocation.
func (m *LoyaltyMetrics) ObserveRevocations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revokedEntries.Add(float64(n))
}

// ObserveDecay records one rank reduction.
func (m *LoyaltyMetrics) ObserveDecay() {
	if m == nil {
		return
	}
	m.decays.Inc()
}

// ObserveScanPopulation records how many secrets the last resolution scanned.
func (m *LoyaltyMetrics) ObserveScanPopulation(n int) {
	if m == nil {
		return
	}
	m.activeScanSize.Set(float64(n))
}

func normalizeLabel(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
