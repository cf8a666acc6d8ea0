package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentInitiationsTotal counts payment initiation outcomes.
	PaymentInitiationsTotal *prometheus.CounterVec
	// PaymentVerificationsTotal counts post-redirect verification outcomes.
	PaymentVerificationsTotal *prometheus.CounterVec
	// TokenRequestsTotal counts provider OAuth2 token request outcomes.
	TokenRequestsTotal *prometheus.CounterVec
	// EntitlementDeliveriesTotal counts host entitlement delivery outcomes.
	EntitlementDeliveriesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentInitiationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_initiation_total",
			Help:      "Count of payment initiation outcomes.",
		}, []string{"result"})
		PaymentVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verification_total",
			Help:      "Count of post-redirect payment verification outcomes.",
		}, []string{"result"})
		TokenRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_token_request_total",
			Help:      "Count of OAuth2 token requests to the payment provider.",
		}, []string{"result"})
		EntitlementDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_delivery_total",
			Help:      "Count of entitlement delivery calls to the host framework.",
		}, []string{"result"})

		mustRegisterCollector(reg, PaymentInitiationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentInitiationsTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerificationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerificationsTotal = v
			}
		})
		mustRegisterCollector(reg, TokenRequestsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TokenRequestsTotal = v
			}
		})
		mustRegisterCollector(reg, EntitlementDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				EntitlementDeliveriesTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
