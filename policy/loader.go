package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conductor-ai/conductor/domain"
)

// ParseTeamPolicy decodes a yaml team policy document.
func ParseTeamPolicy(raw []byte) (domain.TeamPolicy, error) {
	var pol domain.TeamPolicy
	if err := yaml.Unmarshal(raw, &pol); err != nil {
		return domain.TeamPolicy{}, fmt.Errorf("failed to parse team policy: %w", err)
	}
	if pol.Risk.DefaultMode == "" {
		pol.Risk.DefaultMode = domain.ModePlan
	}
	for i, w := range pol.QuietHours {
		if w.Behavior == "" {
			pol.QuietHours[i].Behavior = domain.QuietHoursPlan
		}
	}
	return pol, nil
}

// LoadTeamPolicy reads and parses a team policy file.
func LoadTeamPolicy(path string) (domain.TeamPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.TeamPolicy{}, fmt.Errorf("failed to read team policy: %w", err)
	}
	return ParseTeamPolicy(raw)
}
