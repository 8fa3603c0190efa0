// Package config loads the tool configuration from a plangate.cue file.
//
// Configuration is written in CUE, decoded on top of built-in defaults,
// and validated with struct tags. The file location is resolved from an
// explicit --config flag, the PLANGATE_CONFIG environment variable, or
// plangate.cue in the working directory, in that order.
package config
