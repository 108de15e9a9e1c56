package commands

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Restriction types understood by CheckRestrictions.
const (
	RestrictionPermissions = "firebot:permissions"

	PermissionModeRoles  = "roles"
	PermissionModeViewer = "viewer"
)

const defaultFailMessage = "Sorry @{user}, you cannot use this command because: {reason}"

// CheckRestrictions evaluates rd for the message sender. It returns ok and,
// on failure, a human readable reason.
func CheckRestrictions(rd *RestrictionData, msg ChatMessage) (ok bool, reason string) {
	if rd == nil || len(rd.Restrictions) == 0 {
		return true, ""
	}

	var reasons []string
	passed := 0
	for _, r := range rd.Restrictions {
		if pass, why := checkRestriction(r, msg); pass {
			passed++
		} else {
			reasons = append(reasons, why)
		}
	}

	switch rd.Mode {
	case RestrictionModeAny:
		if passed > 0 {
			return true, ""
		}
		return false, strings.Join(reasons, ", or ")
	case RestrictionModeNone:
		if passed == 0 {
			return true, ""
		}
		return false, "you meet a requirement that excludes you"
	default:
		if passed == len(rd.Restrictions) {
			return true, ""
		}
		return false, strings.Join(reasons, ", and ")
	}
}

func checkRestriction(r Restriction, msg ChatMessage) (bool, string) {
	switch r.Type {
	case RestrictionPermissions:
		if r.Mode == PermissionModeViewer {
			for _, u := range r.Usernames {
				if strings.EqualFold(u, msg.Username) {
					return true, ""
				}
			}
			return false, "you are not on the allowed viewer list"
		}
		for _, role := range r.RoleIDs {
			if msg.HasRole(role) || (role == RoleMod && msg.HasRole(RoleBroadcaster)) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("you need one of the roles %s", strings.Join(r.RoleIDs, ", "))
	default:
		slog.Warn("unknown restriction type, denying", slog.String("type", r.Type))
		return false, "an unsupported restriction is configured"
	}
}

// restrictionFailMessage renders the fail message for a sender.
func restrictionFailMessage(rd *RestrictionData, user, reason string) string {
	tmpl := defaultFailMessage
	if rd != nil && strings.TrimSpace(rd.FailMessage) != "" {
		tmpl = rd.FailMessage
	}
	return strings.NewReplacer("{user}", user, "{reason}", reason).Replace(tmpl)
}

// effectiveRestrictions picks the sub-command's restrictions when it has
// any, else the command's.
func effectiveRestrictions(def Definition, sc *SubCommand) *RestrictionData {
	if sc != nil && sc.RestrictionData != nil && len(sc.RestrictionData.Restrictions) > 0 {
		return sc.RestrictionData
	}
	return def.RestrictionData
}

// IsPrivileged reports whether the sender is the broadcaster or a moderator.
func IsPrivileged(msg ChatMessage) bool {
	return slices.ContainsFunc(msg.Roles, func(r string) bool {
		return r == RoleBroadcaster || r == RoleMod
	})
}

// ModsOnly returns restriction data limiting use to moderators and the
// broadcaster.
func ModsOnly() *RestrictionData {
	return &RestrictionData{
		Restrictions: []Restriction{{
			ID:      "sys-cmd-mods-only-perms",
			Type:    RestrictionPermissions,
			Mode:    PermissionModeRoles,
			RoleIDs: []string{RoleMod, RoleBroadcaster},
		}},
	}
}
