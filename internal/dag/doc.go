// Package dag provides a small, concurrency-safe directed graph keyed by
// string IDs. It is shared by the symbol dependency check and the build unit
// graph: both need idempotent node insertion, dependency/dependent lookups,
// cycle detection that names the offending path, and a deterministic
// topological order.
package dag
