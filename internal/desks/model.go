package desks

// Desk is one agent identity bound to a model.
type Desk struct {
	ID          string   `yaml:"id" json:"id"`
	AgentName   string   `yaml:"agent_name" json:"agentName"`
	ModelID     string   `yaml:"model_id" json:"modelId"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Categories  []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// HasCategory reports whether the desk lists the category (case-insensitive).
func (d Desk) HasCategory(category string) bool {
	for _, c := range d.Categories {
		if equalFold(c, category) {
			return true
		}
	}
	return false
}

// PrimaryCategory returns the first listed category, if any.
func (d Desk) PrimaryCategory() string {
	if len(d.Categories) == 0 {
		return ""
	}
	return d.Categories[0]
}

// Config is the YAML shape of the desk roster.
type Config struct {
	Default []Desk            `yaml:"default,omitempty"`
	Teams   map[string][]Desk `yaml:"teams,omitempty"`
}
