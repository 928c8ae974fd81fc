package domain

// TeamPolicy is a team's policy document, loaded once per routing decision
// and treated as read-only configuration.
type TeamPolicy struct {
	TeamID     string        `yaml:"team_id" json:"team_id"`
	Allow      Allowlist     `yaml:"allow" json:"allow"`
	Risk       RiskRules     `yaml:"risk" json:"risk"`
	QuietHours []QuietWindow `yaml:"quiet_hours" json:"quiet_hours,omitempty"`
	Budget     BudgetRule    `yaml:"budget" json:"budget"`
	Residency  ResidencyRule `yaml:"residency" json:"residency"`
	Reviewers  ReviewerRules `yaml:"reviewers" json:"reviewers"`
}

// Allowlist names the tools and scopes a team may use.
type Allowlist struct {
	Tools  []string `yaml:"tools" json:"tools"`
	Scopes []string `yaml:"scopes" json:"scopes,omitempty"`
}

// RiskRules configure mode and confidence routing plus the high-risk
// approval flag.
type RiskRules struct {
	DefaultMode         Mode    `yaml:"default_mode" json:"default_mode"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	ApproveHighRisk     bool    `yaml:"approve_high_risk" json:"approve_high_risk"`
}

// QuietWindow is a day-of-week plus local time range during which the
// configured behavior applies.
type QuietWindow struct {
	Days     []string           `yaml:"days" json:"days"`
	Start    string             `yaml:"start" json:"start"` // "HH:MM" local
	End      string             `yaml:"end" json:"end"`     // "HH:MM" local
	Behavior QuietHoursBehavior `yaml:"behavior" json:"behavior"`
}

// BudgetRule caps the estimated cost of a run.
type BudgetRule struct {
	LimitCents int `yaml:"limit_cents" json:"limit_cents"`
}

// ResidencyRule restricts which data regions a team's tools may touch.
type ResidencyRule struct {
	Region           string `yaml:"region" json:"region"`
	AllowCrossRegion bool   `yaml:"allow_cross_region" json:"allow_cross_region"`
}

// ReviewerRules set how many approvers a pending step needs, with optional
// per-tool overrides.
type ReviewerRules struct {
	MinApprovers int            `yaml:"min_approvers" json:"min_approvers"`
	PerTool      map[string]int `yaml:"per_tool" json:"per_tool,omitempty"`
}

// ApproversFor resolves the approver count for a tool.
func (r ReviewerRules) ApproversFor(tool string) int {
	if n, ok := r.PerTool[tool]; ok {
		return n
	}
	return r.MinApprovers
}
