package types

// AgentDefinition describes a named agent: its identity text (the system
// context handed to the reasoning collaborator) and the task types it claims.
type AgentDefinition struct {
	Name      string     `yaml:"name" json:"name"`
	Identity  string     `yaml:"identity" json:"identity"`
	Model     string     `yaml:"model,omitempty" json:"model,omitempty"`
	TaskTypes []TaskType `yaml:"task_types" json:"task_types"`
}

// Handles reports whether the agent claims tasks of the given type.
func (a *AgentDefinition) Handles(t TaskType) bool {
	for _, tt := range a.TaskTypes {
		if tt == t {
			return true
		}
	}
	return false
}
