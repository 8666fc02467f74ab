package access

// Prompt is what the access-type selector knows about a signed in user.
type Prompt struct {
	HasRole               bool
	HasPersistedSelection bool
	IsSuperAdmin          bool
}

// NeedsPrompt decides whether the user must pick between school and management access.
// A remembered selection is reused; only super admins get to choose, everybody
// else is routed to a linked school (or ends pending).
func NeedsPrompt(p Prompt) bool {
	if p.HasPersistedSelection {
		return false
	}
	return p.IsSuperAdmin
}

// Choice is the answer to the access-type prompt: exactly one of School or Management.
type Choice struct {
	School     *Descriptor `json:"school,omitempty"`
	Management bool        `json:"management,omitempty"`
}

func (c Choice) Validate() error {
	hasSchool := c.School != nil && c.School.ID != ""
	if hasSchool == c.Management {
		return ErrInvalidChoice
	}
	return nil
}
