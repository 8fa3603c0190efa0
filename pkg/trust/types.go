package trust

import (
	"encoding/json"
	"fmt"
)

// Document is an AWS IAM trust policy document.
type Document struct {
	// Version is the policy language version (e.g. "2012-10-17").
	Version string `json:"Version"`

	// ID is the optional policy identifier.
	ID string `json:"Id,omitempty"`

	// Statement lists the trust statements.
	Statement StatementList `json:"Statement"`
}

// StatementList unmarshals from either a single statement object or an
// array of statements, both of which IAM accepts.
type StatementList []Statement

// UnmarshalJSON implements json.Unmarshaler.
func (sl *StatementList) UnmarshalJSON(data []byte) error {
	var many []Statement
	if err := json.Unmarshal(data, &many); err == nil {
		*sl = many
		return nil
	}

	var one Statement
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("statement must be an object or array: %w", err)
	}
	*sl = StatementList{one}
	return nil
}

// Statement is a single trust policy statement.
type Statement struct {
	// Sid is the optional statement identifier.
	Sid string `json:"Sid,omitempty"`

	// Effect is "Allow" or "Deny".
	Effect string `json:"Effect"`

	// Principal names who may assume the role.
	Principal Principal `json:"Principal,omitempty"`

	// Action is the allowed action(s).
	Action StringOrSlice `json:"Action,omitempty"`

	// Condition maps operator -> condition key -> value(s).
	Condition Condition `json:"Condition,omitempty"`
}

// Principal is the statement principal. AnyPrincipal is true when the
// document used the "Principal": "*" short form.
type Principal struct {
	AnyPrincipal bool                     `json:"-"`
	AWS          StringOrSlice            `json:"AWS,omitempty"`
	Federated    StringOrSlice            `json:"Federated,omitempty"`
	Service      StringOrSlice            `json:"Service,omitempty"`
	Other        map[string]StringOrSlice `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler, accepting "*" or an object.
func (p *Principal) UnmarshalJSON(data []byte) error {
	var star string
	if err := json.Unmarshal(data, &star); err == nil {
		if star != "*" {
			return fmt.Errorf("principal string must be %q, got %q", "*", star)
		}
		p.AnyPrincipal = true
		return nil
	}

	var raw map[string]StringOrSlice
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("principal must be %q or an object: %w", "*", err)
	}

	for key, vals := range raw {
		switch key {
		case "AWS":
			p.AWS = vals
		case "Federated":
			p.Federated = vals
		case "Service":
			p.Service = vals
		default:
			if p.Other == nil {
				p.Other = make(map[string]StringOrSlice)
			}
			p.Other[key] = vals
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Principal) MarshalJSON() ([]byte, error) {
	if p.AnyPrincipal {
		return json.Marshal("*")
	}
	out := make(map[string]StringOrSlice, 3+len(p.Other))
	if len(p.AWS) > 0 {
		out["AWS"] = p.AWS
	}
	if len(p.Federated) > 0 {
		out["Federated"] = p.Federated
	}
	if len(p.Service) > 0 {
		out["Service"] = p.Service
	}
	for k, v := range p.Other {
		out[k] = v
	}
	return json.Marshal(out)
}

// Condition maps a condition operator (e.g. "StringEquals",
// "ForAllValues:StringLike") to condition keys and their values.
type Condition map[string]map[string]StringOrSlice

// StringOrSlice unmarshals from either a JSON string or an array of strings.
// IAM allows both forms for actions, principals, and condition values.
type StringOrSlice []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringOrSlice{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("value must be a string or array of strings: %w", err)
	}
	*s = many
	return nil
}

// Contains reports whether the slice contains the given value.
func (s StringOrSlice) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// ParseDocument parses a trust policy document from JSON.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse trust policy document: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("trust policy document missing Version")
	}
	if len(doc.Statement) == 0 {
		return nil, fmt.Errorf("trust policy document has no statements")
	}
	return &doc, nil
}
