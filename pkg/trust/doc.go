// Package trust models AWS IAM trust policy documents and lints the
// GitHub Actions OIDC federation pattern: audience pinning, subject
// scoping, and set-operator condition pitfalls.
package trust
