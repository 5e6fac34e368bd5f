// Package logx is the scanner's logging layer on top of zerolog.
//
// Loggers derived from a Service follow Service.Apply, so a config reload
// can change level and sinks without rebuilding components. Every worker,
// the overseer and the collaborators log through a Logger carrying a comp
// field; the zero Logger discards everything.
package logx
