package plan

import (
	"strings"
)

// Action represents the normalized change action for a resource.
type Action string

const (
	// ActionCreate creates a new resource.
	ActionCreate Action = "create"

	// ActionUpdate updates an existing resource in place.
	ActionUpdate Action = "update"

	// ActionDelete destroys an existing resource.
	ActionDelete Action = "delete"

	// ActionReplace destroys and recreates a resource.
	ActionReplace Action = "replace"

	// ActionRead refreshes a data source.
	ActionRead Action = "read"

	// ActionNoOp leaves the resource unchanged.
	ActionNoOp Action = "no-op"
)

// Plan is a normalized Terraform execution plan.
type Plan struct {
	// FormatVersion is the plan JSON format version (e.g. "1.2").
	FormatVersion string `json:"format_version"`

	// TerraformVersion is the Terraform release that produced the plan.
	TerraformVersion string `json:"terraform_version"`

	// Changes are the proposed resource changes in plan order.
	Changes []ResourceChange `json:"changes"`

	// Variables are the input variable values recorded in the plan.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// ResourceChange is a single proposed change to a resource.
type ResourceChange struct {
	// Address uniquely identifies the resource within the plan
	// (e.g. "module.vpc.aws_security_group.ingress[0]").
	Address string `json:"address"`

	// ModuleAddress is the enclosing module, empty for the root module.
	ModuleAddress string `json:"module_address,omitempty"`

	// Mode is "managed" for resources or "data" for data sources.
	Mode string `json:"mode"`

	// Type is the resource type (e.g. "aws_iam_role").
	Type string `json:"type"`

	// Name is the resource name within its module.
	Name string `json:"name"`

	// Provider is the short provider name (e.g. "aws").
	Provider string `json:"provider"`

	// ProviderName is the fully-qualified provider source address.
	ProviderName string `json:"provider_name"`

	// Action is the normalized action derived from the raw action list.
	Action Action `json:"action"`

	// Actions is the raw action list as emitted by Terraform.
	Actions []string `json:"actions"`

	// Before holds the attribute values prior to the change.
	Before map[string]interface{} `json:"before,omitempty"`

	// After holds the planned attribute values after the change.
	After map[string]interface{} `json:"after,omitempty"`

	// AfterUnknown marks attributes whose values are not known until apply.
	AfterUnknown map[string]interface{} `json:"after_unknown,omitempty"`
}

// Summary aggregates change counts for a plan.
type Summary struct {
	Total    int `json:"total"`
	Adds     int `json:"adds"`
	Changes  int `json:"changes"`
	Destroys int `json:"destroys"`
	Replaces int `json:"replaces"`
	Reads    int `json:"reads"`
	NoOps    int `json:"no_ops"`
}

// Attributes returns the attribute map policies should inspect: the planned
// state for creates and updates, the prior state for deletes.
func (rc *ResourceChange) Attributes() map[string]interface{} {
	if rc.Action == ActionDelete {
		return rc.Before
	}
	if rc.After != nil {
		return rc.After
	}
	return rc.Before
}

// Tags returns the resource tags from the planned state. Both "tags" and
// "tags_all" are consulted, matching AWS provider output.
func (rc *ResourceChange) Tags() map[string]string {
	attrs := rc.Attributes()
	for _, key := range []string{"tags_all", "tags"} {
		raw, ok := attrs[key].(map[string]interface{})
		if !ok {
			continue
		}
		tags := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				tags[k] = s
			}
		}
		return tags
	}
	return nil
}

// Summary computes aggregate change counts for the plan.
func (p *Plan) Summary() Summary {
	s := Summary{Total: len(p.Changes)}
	for i := range p.Changes {
		switch p.Changes[i].Action {
		case ActionCreate:
			s.Adds++
		case ActionUpdate:
			s.Changes++
		case ActionDelete:
			s.Destroys++
		case ActionReplace:
			s.Replaces++
			s.Adds++
			s.Destroys++
		case ActionRead:
			s.Reads++
		default:
			s.NoOps++
		}
	}
	return s
}

// Filter returns the changes whose action matches any of the given actions.
func (p *Plan) Filter(actions ...Action) []ResourceChange {
	var out []ResourceChange
	for i := range p.Changes {
		for _, a := range actions {
			if p.Changes[i].Action == a {
				out = append(out, p.Changes[i])
				break
			}
		}
	}
	return out
}

// HasChanges reports whether the plan proposes any non-read, non-noop change.
func (p *Plan) HasChanges() bool {
	for i := range p.Changes {
		switch p.Changes[i].Action {
		case ActionCreate, ActionUpdate, ActionDelete, ActionReplace:
			return true
		}
	}
	return false
}

// NormalizeActions maps a raw Terraform action list to a single Action.
// Terraform encodes replacement as ["delete","create"] or ["create","delete"]
// depending on create_before_destroy.
func NormalizeActions(actions []string) Action {
	var hasCreate, hasDelete, hasUpdate, hasRead bool
	for _, a := range actions {
		switch a {
		case "create":
			hasCreate = true
		case "delete":
			hasDelete = true
		case "update":
			hasUpdate = true
		case "read":
			hasRead = true
		}
	}

	switch {
	case hasCreate && hasDelete:
		return ActionReplace
	case hasCreate:
		return ActionCreate
	case hasDelete:
		return ActionDelete
	case hasUpdate:
		return ActionUpdate
	case hasRead:
		return ActionRead
	default:
		return ActionNoOp
	}
}

// shortProvider extracts the short provider name from a fully-qualified
// source address: "registry.terraform.io/hashicorp/aws" -> "aws".
func shortProvider(providerName string) string {
	if providerName == "" {
		return ""
	}
	parts := strings.Split(providerName, "/")
	return parts[len(parts)-1]
}
