// Package access holds the pure permission policy: resolving a user's
// effective role on a document and gating operations by role. It touches no
// storage so it can be reasoned about and tested in isolation.
package access

import "collabdocs/server/internal/protocol"

type Role string

const (
	RoleOwner     Role = "owner"
	RoleEditor    Role = "editor"
	RoleCommenter Role = "commenter"
	RoleViewer    Role = "viewer"
)

// LinkAccessNone disables link sharing; any other link-access value doubles
// as the role granted to unlisted users.
const LinkAccessNone = "none"

// ResolveRole maps a connecting user to an effective role. Owner wins over
// an explicit ACL grant, which wins over the link-access setting. The second
// return value is false when the user has no access at all.
func ResolveRole(ownerID string, acl map[string]string, linkAccess, userID string) (Role, bool) {
	if ownerID != "" && userID == ownerID {
		return RoleOwner, true
	}
	if role, ok := acl[userID]; ok && role != "" {
		return Role(role), true
	}
	if linkAccess != "" && linkAccess != LinkAccessNone {
		return Role(linkAccess), true
	}
	return "", false
}

// Permitted reports whether role may perform the given operation kind.
// Content mutation is limited to owners and editors; chat requires more than
// view access. Everything else, including restore, is open to any admitted
// role. Denied operations are dropped silently by the caller.
func Permitted(role Role, kind string) bool {
	switch kind {
	case protocol.OpUpdate:
		return role == RoleOwner || role == RoleEditor
	case protocol.OpChat, protocol.OpDeleteChat:
		return role != RoleViewer
	default:
		return true
	}
}
