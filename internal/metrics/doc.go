// Package metrics records build metrics.
//
// Components depend on the Recorder interface. NoopRecorder is the default
// and PrometheusRecorder is installed when the status server is enabled.
// Observer adapts a Recorder to the engine's observer hooks.
package metrics
