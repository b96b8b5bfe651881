// Package model defines the format-agnostic declaration model: configuration
// symbols, choice groups and build units, along with the Loader interface
// implemented by concrete front-ends such as the HCL adapter.
//
// The model is the single source of truth for the kconfig resolver and the
// unit graph builder. Expressions are kept unevaluated as hcl.Expression
// values; a nil expression means the attribute was not written.
package model
