// Package unitgraph turns the static declaration index of build units into
// the active unit graph for one configuration state and target context.
package unitgraph
