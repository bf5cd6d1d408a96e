package collab

import "github.com/compliance-ops/regfabric/pkg/models"

// Action is a permission-gated collaboration operation.
type Action string

// Gated actions.
const (
	ActionView        Action = "view"
	ActionFeedback    Action = "feedback"
	ActionMessage     Action = "message"
	ActionIntervene   Action = "intervene"
	ActionManageUsers Action = "manage_users"
)

// rolePermissions maps each role to the actions it may perform. Roles are
// strictly additive from viewer up to administrator.
var rolePermissions = map[models.Role]map[Action]bool{
	models.RoleViewer: {
		ActionView: true,
	},
	models.RoleAnalyst: {
		ActionView: true,
	},
	models.RoleOperator: {
		ActionView:     true,
		ActionFeedback: true,
		ActionMessage:  true,
	},
	models.RoleSupervisor: {
		ActionView:      true,
		ActionFeedback:  true,
		ActionMessage:   true,
		ActionIntervene: true,
	},
	models.RoleAdministrator: {
		ActionView:        true,
		ActionFeedback:    true,
		ActionMessage:     true,
		ActionIntervene:   true,
		ActionManageUsers: true,
	},
}

// Allowed reports whether the role may perform the action.
func Allowed(role models.Role, action Action) bool {
	return rolePermissions[role][action]
}
