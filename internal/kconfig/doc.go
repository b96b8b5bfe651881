// Package kconfig resolves configuration symbols into an immutable State.
//
// Symbols carry depends-on, select and default expressions written in HCL
// native syntax and evaluated with tristate semantics (n < m < y, && is min,
// || is max, ! is 2-x). Resolve iterates the declarations to a fixpoint in
// which depends-on dominates select, selects raise values, and the first
// default whose condition is not n applies when the user has not assigned a
// value.
package kconfig
