// Package report renders the result of a build: a coloured terminal
// summary for people and a YAML document for tooling.
package report
