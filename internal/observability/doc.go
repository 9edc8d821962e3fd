// Package observability builds the service logger and keeps in-process
// counters of webhook delivery outcomes.
package observability
