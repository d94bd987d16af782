// Package metrics collects garbage-collection and latency accounting for a
// simulation run: Prometheus collectors for scraping, the plain-text
// metrics stream consumed by the analysis scripts, and an optional Parquet
// dump of raw response-time samples.
package metrics
