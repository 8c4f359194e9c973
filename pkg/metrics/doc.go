// Package metrics exposes Prometheus collectors for the volume layer:
// placement counts per volume, rewrite progress and conflicts, and
// decommission verification results. Collectors register themselves at import
// time; serve them with Handler on whatever mux the process runs.
package metrics
