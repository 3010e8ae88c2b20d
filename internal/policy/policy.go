// Package policy decides which actor may perform which operation.
package policy

import (
	"pharmacy-market/internal/domain"

	"github.com/google/uuid"
)

// CanCreateDrug reports whether the actor may list a new drug.
func CanCreateDrug(a domain.Actor) bool {
	return a.Authenticated() && (a.Role == domain.RoleSeller || a.Role == domain.RoleAdmin)
}

// CanModifyDrug reports whether the actor may update or delete d.
func CanModifyDrug(a domain.Actor, d *domain.Drug) bool {
	if !a.Authenticated() {
		return false
	}
	if a.Role == domain.RoleAdmin {
		return true
	}
	return a.Role == domain.RoleSeller && d.SellerID == a.ID
}

func CanPlaceOrder(a domain.Actor) bool {
	return a.Authenticated() && (a.Role == domain.RoleBuyer || a.Role == domain.RoleAdmin)
}

func CanViewOrder(a domain.Actor, o *domain.Order) bool {
	return a.Authenticated() && (a.Role == domain.RoleAdmin || o.UserID == a.ID)
}

// CanModifyOrder covers item removal and deletion: admins always, owners only
// while the order is still pending.
func CanModifyOrder(a domain.Actor, o *domain.Order) bool {
	if !a.Authenticated() {
		return false
	}
	if a.Role == domain.RoleAdmin {
		return true
	}
	return o.UserID == a.ID && o.Status == domain.OrderStatusPending
}

func CanReviewOrder(a domain.Actor) bool {
	return a.Authenticated() && a.Role == domain.RoleAdmin
}

func CanListUsers(a domain.Actor) bool {
	return a.Authenticated() && a.Role == domain.RoleAdmin
}

// CanManageUser reports whether the actor may read, update or delete the account target.
func CanManageUser(a domain.Actor, target uuid.UUID) bool {
	return a.Authenticated() && (a.Role == domain.RoleAdmin || a.ID == target)
}
