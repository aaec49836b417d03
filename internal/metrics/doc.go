/*
Package metrics exports the running mount's worker-pool and page-cache
counters over Prometheus.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "nimbusfs",
	})
	if err != nil {
		log.Fatal(err)
	}
	go collector.Start(ctx)

internal/workerpool records job dispatch/completion/failure and queue
depth against the collector passed to Initialize. internal/engine adds
to bytes-modified on every write and records reconciliation
error/warning counts as it opens files. Nothing in this module calls
SetBytesUnloaded, so that gauge stays at zero.

A Collector built with Config.Enabled false still satisfies every
Record-/Set-prefixed call as a no-op, so callers never need to nil-check it.
*/
package metrics
