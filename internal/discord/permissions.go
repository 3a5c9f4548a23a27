package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides who may control sessions.
type PermissionChecker struct {
	roles []string
}

// NewPermissionChecker allows members holding any of roles. No roles allows
// everyone.
func NewPermissionChecker(roles ...string) *PermissionChecker {
	return &PermissionChecker{roles: slices.Clone(roles)}
}

// Allowed reports whether the interaction author may run session commands.
// Interactions outside a guild have no member and are refused unless every
// user is allowed.
func (p *PermissionChecker) Allowed(i *discordgo.InteractionCreate) bool {
	if len(p.roles) == 0 {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.ContainsFunc(i.Member.Roles, func(r string) bool {
		return slices.Contains(p.roles, r)
	})
}
