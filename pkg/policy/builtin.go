package policy

import (
	"time"
)

// BuiltinPolicies returns all built-in policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		requiredTagsPolicy(),
		iamWildcardPolicy(),
		destroyBudgetPolicy(),
		statefulDeletePolicy(),
		publicIngressPolicy(),
		oidcProviderPolicy(),
	}
}

// requiredTagsPolicy ensures governance tags are present on AWS resources.
func requiredTagsPolicy() Policy {
	return Policy{
		Name:        "required-tags",
		Description: "Ensures governance tags (env, owner) are present on managed AWS resources",
		Language:    LanguageRego,
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"tags", "governance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Source: `package plangate.policies.tags

import rego.v1

required_tags := ["env", "owner"]

resource_tags(rc) := tags if {
	tags := rc.after.tags_all
} else := tags if {
	tags := rc.after.tags
} else := {}

deny contains violation if {
	some rc in input.plan.changes
	rc.mode == "managed"
	rc.action in ["create", "update", "replace"]
	startswith(rc.type, "aws_")

	tags := resource_tags(rc)
	some tag in required_tags
	not tags[tag]

	violation := {
		"message": sprintf("Resource %s missing required tag: %s", [rc.address, tag]),
		"severity": "error",
		"resource": rc.address,
		"remediation": sprintf("Add a %q tag to the resource or its default_tags block", [tag]),
	}
}

deny contains violation if {
	some rc in input.plan.changes
	rc.mode == "managed"
	rc.action in ["create", "update", "replace"]
	startswith(rc.type, "aws_")

	tags := resource_tags(rc)
	some tag in required_tags
	tags[tag] == ""

	violation := {
		"message": sprintf("Resource %s has empty required tag: %s", [rc.address, tag]),
		"severity": "error",
		"resource": rc.address,
	}
}`,
	}
}

// iamWildcardPolicy blocks IAM policies granting wildcard actions or
// resources and roles that trust any principal.
func iamWildcardPolicy() Policy {
	return Policy{
		Name:        "iam-no-wildcards",
		Description: "Blocks IAM policies with wildcard actions/resources and roles trusting any principal",
		Language:    LanguageRego,
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"iam", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Source: `package plangate.policies.iam

import rego.v1

policy_types := {"aws_iam_policy", "aws_iam_role_policy", "aws_iam_group_policy", "aws_iam_user_policy"}

statements(doc) := doc.Statement if is_array(doc.Statement)

statements(doc) := [doc.Statement] if is_object(doc.Statement)

as_array(x) := x if is_array(x)

as_array(x) := [x] if is_string(x)

deny contains violation if {
	some rc in input.plan.changes
	rc.type in policy_types
	rc.action in ["create", "update", "replace"]

	doc := json.unmarshal(rc.after.policy)
	some stmt in statements(doc)
	stmt.Effect == "Allow"
	"*" in as_array(stmt.Action)

	violation := {
		"message": sprintf("IAM policy %s allows all actions (\"*\")", [rc.address]),
		"severity": "critical",
		"resource": rc.address,
		"remediation": "Enumerate the specific actions the workload needs",
	}
}

deny contains violation if {
	some rc in input.plan.changes
	rc.type in policy_types
	rc.action in ["create", "update", "replace"]

	doc := json.unmarshal(rc.after.policy)
	some stmt in statements(doc)
	stmt.Effect == "Allow"
	"*" in as_array(stmt.Resource)

	violation := {
		"message": sprintf("IAM policy %s applies to all resources (\"*\")", [rc.address]),
		"severity": "error",
		"resource": rc.address,
	}
}

deny contains violation if {
	some rc in input.plan.changes
	rc.type == "aws_iam_role"
	rc.action in ["create", "update", "replace"]

	doc := json.unmarshal(rc.after.assume_role_policy)
	some stmt in statements(doc)
	stmt.Effect == "Allow"
	stmt.Principal == "*"

	violation := {
		"message": sprintf("IAM role %s trusts any principal (\"*\")", [rc.address]),
		"severity": "critical",
		"resource": rc.address,
	}
}`,
	}
}

// destroyBudgetPolicy limits the number of destroys per production plan.
func destroyBudgetPolicy() Policy {
	return Policy{
		Name:        "destroy-budget",
		Description: "Limits the number of resources a production plan may destroy",
		Language:    LanguageRego,
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Source: `package plangate.policies.destroys

import rego.v1

max_destroys := 5

deny contains violation if {
	input.context.environment == "production"
	not input.context.dry_run

	destroy_count := count([rc |
		some rc in input.plan.changes
		rc.action in ["delete", "replace"]
	])
	destroy_count > max_destroys

	violation := {
		"message": sprintf("Plan destroys %d resources, exceeding the production budget of %d", [destroy_count, max_destroys]),
		"severity": "error",
	}
}

deny contains violation if {
	input.plan
	not input.context.environment == "production"
	destroy_count := count([rc |
		some rc in input.plan.changes
		rc.action in ["delete", "replace"]
	])
	destroy_count > max_destroys

	violation := {
		"message": sprintf("Plan destroys %d resources - please review carefully", [destroy_count]),
		"severity": "warning",
	}
}`,
	}
}

// statefulDeletePolicy blocks destruction of data-bearing resources.
func statefulDeletePolicy() Policy {
	return Policy{
		Name:        "stateful-deletes",
		Description: "Blocks destruction of data-bearing resources in production",
		Language:    LanguageRego,
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "data"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Source: `package plangate.policies.stateful

import rego.v1

stateful_types := {
	"aws_s3_bucket",
	"aws_dynamodb_table",
	"aws_db_instance",
	"aws_rds_cluster",
	"aws_efs_file_system",
	"aws_elasticache_cluster",
}

deny contains violation if {
	input.context.environment == "production"
	some rc in input.plan.changes
	rc.type in stateful_types
	rc.action in ["delete", "replace"]

	violation := {
		"message": sprintf("Plan destroys stateful resource %s in production", [rc.address]),
		"severity": "critical",
		"resource": rc.address,
		"remediation": "Snapshot or migrate the data first, then waive this violation with a justification",
	}
}`,
	}
}

// publicIngressPolicy detects security group rules open to the internet.
func publicIngressPolicy() Policy {
	return Policy{
		Name:        "public-ingress",
		Description: "Detects security group ingress rules open to 0.0.0.0/0",
		Language:    LanguageRego,
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"network", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Source: `package plangate.policies.ingress

import rego.v1

open_cidrs := {"0.0.0.0/0", "::/0"}

deny contains violation if {
	some rc in input.plan.changes
	rc.type == "aws_security_group"
	rc.action in ["create", "update", "replace"]

	some rule in rc.after.ingress
	some cidr in rule.cidr_blocks
	cidr in open_cidrs

	violation := {
		"message": sprintf("Security group %s allows ingress from %s", [rc.address, cidr]),
		"severity": "error",
		"resource": rc.address,
	}
}

deny contains violation if {
	some rc in input.plan.changes
	rc.type == "aws_security_group_rule"
	rc.action in ["create", "update", "replace"]
	rc.after.type == "ingress"

	some cidr in rc.after.cidr_blocks
	cidr in open_cidrs

	violation := {
		"message": sprintf("Security group rule %s allows ingress from %s", [rc.address, cidr]),
		"severity": "error",
		"resource": rc.address,
	}
}`,
	}
}

// oidcProviderPolicy checks GitHub OIDC provider resources pin the STS
// audience.
func oidcProviderPolicy() Policy {
	return Policy{
		Name:        "oidc-audience",
		Description: "Requires GitHub OIDC providers to pin the sts.amazonaws.com audience",
		Language:    LanguageRego,
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"iam", "oidc", "federation"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Source: `package plangate.policies.oidc

import rego.v1

deny contains violation if {
	some rc in input.plan.changes
	rc.type == "aws_iam_openid_connect_provider"
	rc.action in ["create", "update", "replace"]
	contains(rc.after.url, "token.actions.githubusercontent.com")

	not "sts.amazonaws.com" in rc.after.client_id_list

	violation := {
		"message": sprintf("OIDC provider %s does not list sts.amazonaws.com as an audience", [rc.address]),
		"severity": "error",
		"resource": rc.address,
	}
}`,
	}
}
