// Package policy holds the capability checks for account administration and
// event log visibility. Decisions are pure functions over the closed role set.
package policy

import "github.com/tadast/signonotron2/internal/domain"

// CanViewAnyEventLog reports whether actor's role grants access to at least
// one account's log. Callers use it to refuse before resolving the target, so
// a denied actor cannot learn whether an account id exists.
func CanViewAnyEventLog(actor domain.User) bool {
	switch actor.Role {
	case domain.RoleSuperadmin, domain.RoleAdmin, domain.RoleOrganisationAdmin:
		return true
	default:
		return false
	}
}

// CanViewEventLog reports whether actor may read target's account access log.
// Normal users may not view any log, their own included. Organisation admins
// are confined to accounts inside their own organisation.
func CanViewEventLog(actor, target domain.User) bool {
	switch actor.Role {
	case domain.RoleSuperadmin:
		return true
	case domain.RoleAdmin:
		return true
	case domain.RoleOrganisationAdmin:
		return sameOrganisation(actor, target)
	default:
		return false
	}
}

// CanManageAccount reports whether actor may lock, unlock, suspend or
// unsuspend the target account. The capability set mirrors event log
// visibility.
func CanManageAccount(actor, target domain.User) bool {
	return CanViewEventLog(actor, target)
}

func sameOrganisation(actor, target domain.User) bool {
	if actor.OrganisationID == nil || target.OrganisationID == nil {
		return false
	}
	return *actor.OrganisationID == *target.OrganisationID
}
