package service

import (
	"github.com/noturnachs/wasteph-sub000/model"
)

// Operations checked by the authorization policy.
const (
	OpCreate         = "create"
	OpUpdate         = "update"
	OpApprove        = "approve"
	OpReject         = "reject"
	OpSend           = "send"
	OpRetryEmail     = "retry_email"
	OpCancel         = "cancel"
	OpRequest        = "request"
	OpFulfill        = "fulfill"
	OpHardbound      = "hardbound"
	OpManageTemplate = "manage_template"
)

// adminOnly lists operations reserved for admins regardless of ownership.
var adminOnly = map[string]bool{
	OpApprove:        true,
	OpReject:         true,
	OpFulfill:        true,
	OpHardbound:      true,
	OpRetryEmail:     true,
	OpManageTemplate: true,
}

// Authorize is the single policy gate for both lifecycles: a sales actor may
// only act on entities it requested, unless flagged master-level; an admin is
// unrestricted by ownership but still subject to the status guards enforced
// by each transition. Every transition calls this before touching state.
func Authorize(actor model.Actor, ownerID uint, op string) *Error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleSales:
		if adminOnly[op] {
			return Forbidden("actor", "operation requires an admin")
		}
		if actor.MasterSales {
			return nil
		}
		if ownerID != 0 && actor.ID != ownerID {
			return Forbidden("actor", "entity belongs to another sales user")
		}
		return nil
	default:
		return Forbidden("actor", "unknown role")
	}
}
