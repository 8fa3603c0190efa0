// Package plan models Terraform execution plans for policy evaluation.
//
// The parser consumes `terraform show -json` output (format version 1.x)
// and normalizes it into a Plan: an ordered list of resource changes, each
// with a unique address, a single normalized action, and the before/after
// attribute maps. Policies operate exclusively on this normalized form;
// nothing downstream touches the raw Terraform JSON.
package plan
