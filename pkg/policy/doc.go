// Package policy implements the governance rule engine.
//
// Policies are written in Rego (evaluated through OPA) or Starlark and are
// evaluated against a normalized Terraform plan, a single resource change,
// or an IAM trust policy document. Rego policies expose violations through
// a `deny` set in their package; Starlark rules define a
// `violations(input)` function. Both receive the same Input document:
//
//	{
//	  "plan":           { ... },  // pkg/plan.Plan
//	  "resource":       { ... },  // pkg/plan.ResourceChange
//	  "trust_document": { ... },  // pkg/trust.Document
//	  "context":        { "environment": "production", ... }
//	}
//
// A plan is admissible when no un-waived violation of severity error or
// critical remains. Waivers downgrade matched violations and record their
// justification; they never delete the finding from the report.
//
// The loader discovers .rego, .star, and .json policy files, and can watch
// them with fsnotify to hot-reload the engine.
package policy
