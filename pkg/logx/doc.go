// Package logx is the structured logger used across wfsched, a thin layer over
// zerolog.
//
// Console output is human-readable with a short caller; the optional file sink
// writes one JSON object per line. A Service owns the sinks and can swap them
// when the config file is reloaded; Loggers derived from it follow the swap.
package logx
