// Package app contains the core application logic. It wires declarations,
// configuration state, the unit graph and the build engine together and
// exposes one method per user-facing operation, decoupled from any specific
// entrypoint like a CLI or server.
package app
