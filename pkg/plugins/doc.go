// Package plugins runs custom rules compiled to WebAssembly. Each
// plugin ships a YAML manifest next to its module; the guest exports
// allocate, deallocate, and evaluate, exchanging JSON documents with
// the host.
package plugins
