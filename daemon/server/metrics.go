package server

import "github.com/docker/go-metrics"

var (
	requestsCounter   metrics.LabeledCounter
	bytesSent         metrics.Counter
	activeConnections metrics.Gauge
	requestDuration   metrics.LabeledTimer
	acceptErrors      metrics.Counter
)

func init() {
	ns := metrics.NewNamespace("fsd", "http", nil)
	requestsCounter = ns.NewLabeledCounter("requests", "The number of responses sent, by status code and method", "code", "method")
	bytesSent = ns.NewCounter("response_body_bytes", "The number of body bytes written to clients")
	activeConnections = ns.NewGauge("connections", "The number of open client connections", metrics.Total)
	requestDuration = ns.NewLabeledTimer("request_duration", "The number of seconds it takes to serve each request", "method")
	acceptErrors = ns.NewCounter("accept_errors", "The number of failed accepts on the listeners")
	metrics.Register(ns)
}
