// Package engine walks an active unit graph and brings every unit up to
// date.
//
// Ready units, those whose dependencies have all finished, are handed to a
// bounded pool of workers. For each unit a worker computes a fingerprint
// over the unit's inputs, relevant configuration, target context and
// dependency fingerprints, and compares it with the fingerprint cache.
// Only stale units reach the compiler. A failure blocks every transitive
// dependent while unrelated units keep building.
package engine
