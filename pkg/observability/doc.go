/*
Package observability turns saga lifecycle events into metrics and logs.

Metrics exposes Prometheus counters and histograms fed by domain.LifecycleHooks;
LoggingHooks writes the same events to a structured logger. Both plug into
the manager with sagaflow.WithLifecycleHooks and can be combined.
*/
package observability
