package client

import "github.com/opaquefs/securefs/types"

// CanRead reports whether user may read an inode owned by owner (spec.md
// §4.7, P7): true for the owner itself, or for any member of owner when
// owner names a group.
func (c *Client) CanRead(user, owner types.Principal) bool {
	return c.canAccess(user, owner)
}

// CanWrite reports whether user may write an inode owned by owner. This
// implementation does not distinguish read and write access beyond identity
// and group membership, matching the reference system's all-or-nothing
// per-owner permission model (spec.md §4.7).
func (c *Client) CanWrite(user, owner types.Principal) bool {
	return c.canAccess(user, owner)
}

func (c *Client) canAccess(user, owner types.Principal) bool {
	if user == owner {
		return true
	}
	if !owner.IsGroup() {
		return false
	}
	members, ok := c.groups.Members(owner)
	if !ok {
		return false
	}
	return principalIn(members, user)
}
