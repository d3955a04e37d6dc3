/*
Package metrics provides Prometheus metrics collection for the whole
platform: task and step execution, element resolution, reasoning service
calls, the browser pool, circuit breakers, and the HTTP API.

A single Collector registers every metric under one namespace through
promauto, so handlers and subsystems record through typed methods instead
of touching Prometheus vectors directly. Pass a dedicated Registerer in
tests to keep registrations isolated.
*/
package metrics
