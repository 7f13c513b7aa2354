// Package prometheus publishes azauth engine counters through
// client_golang. [NewCollector] reads Engine.MetricsSnapshot on each scrape;
// [Handler] wraps it in a private registry for mounting on /metrics.
package prometheus
