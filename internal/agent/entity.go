package agent

// Role buckets agents for remediation-task routing.
type Role string

const (
	RoleSecurity    Role = "security"
	RoleIntegration Role = "integration"
	RolePlanning    Role = "planning"
	RoleQA          Role = "qa"
	RoleImplementer Role = "implementer"
)

// Agent is an executable persona hosted by the gateway, identified by a
// lowercase token.
type Agent struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Role      Role   `yaml:"role" json:"role"`
	IsDefault bool   `yaml:"is_default,omitempty" json:"isDefault,omitempty"`
}
