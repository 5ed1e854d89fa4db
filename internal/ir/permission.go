package ir

// RuleState tracks a permission rule through reconciliation.
type RuleState string

const (
	RulePending  RuleState = "pending"
	RuleApplied  RuleState = "applied"
	RuleVerified RuleState = "verified"
	RuleSkipped  RuleState = "skipped"
	RuleFailed   RuleState = "failed"
)

// PermissionRule grants one unit invoke rights on another. Rules are
// derived entirely from graph edges, never declared by hand.
type PermissionRule struct {
	Grantor string `json:"grantor"` // unit whose resource policy is edited
	Grantee string `json:"grantee"` // unit receiving invoke rights
	Action  string `json:"action"`
}
