/*
Package metrics provides Prometheus instrumentation for dualflow components.

The engine instruments three concerns:
  - Message channels: traffic counters by message kind and outbound queue depth
  - Execution queue and scheduler: scheduled/deduplicated/executed/failed task
    counters, task duration histogram, and pending-queue depth
  - Canvas protocol: frames, blits, raster bytes shipped, and input events
    forwarded

Components accept a *Registry in their Config; pass nil to disable
collection, or metrics.DefaultRegistry to record into the default Prometheus
registerer. Expose the results the usual way:

	http.Handle("/metrics", promhttp.Handler())
	log.Fatal(http.ListenAndServe(":8080", nil))

Use a private registry for isolation (useful in tests):

	reg := prometheus.NewRegistry()
	registry := metrics.NewRegistry(reg)
*/
package metrics
