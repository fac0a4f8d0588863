// Package perf hosts opt-in benchmarks for path finding and ticks.
//
// The benchmarks are behind the `perf` build tag so they stay out of
// default test runs.
package perf
