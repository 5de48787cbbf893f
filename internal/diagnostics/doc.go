// Package diagnostics provides process health monitoring for long-running
// anonymization services: resource snapshots (file descriptors, goroutines,
// heap), system-wide metrics via gopsutil, and crash dumps written on panic
// so failed runs can be investigated after the fact.
package diagnostics
