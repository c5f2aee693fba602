package client

import (
	"context"
	"fmt"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/itable"
	"github.com/opaquefs/securefs/types"
)

// Pre is invoked before every FS operation, once the frontend holds the
// server's exclusive lock (spec.md §4.6, §5). It fetches and verifies the
// VSL, rebuilds itables from it, refreshes the usermap/groupmap, and marks
// user as the active principal for the operation that follows.
//
// Unlike the reference implementation, Pre does not discard itables for
// principals absent from the fetched VSL — it only ever upgrades an entry
// when the VSL shows a newer version. A principal's itable is otherwise
// carried forward unchanged. This matters for Init: the root's itable is
// built and held locally before any VS naming it has ever been committed
// (between Init's own Pre and Post), and a literal "rebuild itables from nothing but
// the VSL" policy would make that state unreachable by the very next Pre.
func (c *Client) Pre(ctx context.Context, user types.Principal) error {
	vsl, err := c.bc.Server().GetVSL(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}

	for _, u := range sortedVSLUsers(vsl) {
		vs := vsl[u]
		pub, ok := c.PublicKey(u)
		if !ok {
			return fmt.Errorf("%w: no public key known for %s", ErrBadSignature, u)
		}
		if !crypto.Verify(pub, vs.Signature, vs.Bytes()) {
			return fmt.Errorf("%w: vs for %s", ErrBadSignature, u)
		}
	}

	if err := checkNoRegression(c.vsl, vsl); err != nil {
		c.logger.Error("fork detected", "error", err.Error())
		return err
	}

	for _, u := range sortedVSLUsers(vsl) {
		vs := vsl[u]
		for _, p := range sortedPrincipals(vs.Ihandles) {
			ih := vs.Ihandles[p]
			v := vs.Versions[p]
			existing, ok := c.itables[p]
			switch {
			case !ok, existing.Version < v:
				loaded, err := itable.Load(ctx, c.bc, ih, v, p, c, c)
				if err != nil {
					return fmt.Errorf("client: pre: load itable for %s: %w", p, err)
				}
				c.itables[p] = loaded
			case existing.Version == v:
				if existing.Ihandle != ih {
					c.logger.Error("fork detected: same version, different ihandle", "principal", p.String(), "version", v)
					return fmt.Errorf("%w: %s version %d disagrees on ihandle", ErrForkDetected, p, v)
				}
			}
			// existing.Version > v: a VS we've already superseded locally; ignore.
		}
	}

	c.vsl = vsl
	if c.rootSet {
		if err := c.refreshMaps(ctx, user); err != nil {
			return err
		}
	}
	c.active = user
	return nil
}

// Post is invoked after every FS operation. When push is false (the
// read-only operations Read, Readdir and Lookup) it is a no-op. Otherwise
// it saves every dirty itable the
// active user was entitled to modify, advances (or creates) that user's VS,
// checks that the resulting VSL would still admit a total order, signs, and
// commits.
func (c *Client) Post(ctx context.Context, push bool) error {
	if !push {
		return nil
	}
	if _, ok := c.itables[c.active]; !ok {
		// Read-only operation; nothing for this user to commit.
		return nil
	}

	vs, ok := c.vsl[c.active]
	if ok {
		vs = vs.Clone()
	} else {
		vs = types.NewVersionStruct(c.active)
	}

	for _, p := range sortedItablePrincipals(c.itables) {
		t := c.itables[p]
		if t.Dirty() {
			if p != c.active {
				members, ok := c.groups.Members(p)
				if !ok || !principalIn(members, c.active) {
					return fmt.Errorf("%w: %s may not commit changes to %s's itable", ErrPermissionDenied, c.active, p)
				}
			}
			newIhandle, err := t.Save(ctx, c.bc)
			if err != nil {
				return fmt.Errorf("client: post: save itable for %s: %w", p, err)
			}
			vs.Versions[p] = t.Version + 1
			vs.Ihandles[p] = newIhandle
			t.Version = vs.Versions[p]
			continue
		}
		if vs.Versions[p] < t.Version {
			vs.Versions[p] = t.Version
			if _, present := vs.Ihandles[p]; present {
				vs.Ihandles[p] = t.Ihandle
			}
		}
	}

	candidates := make([]*types.VersionStruct, 0, len(c.vsl)+1)
	for p, other := range c.vsl {
		if p == c.active {
			continue
		}
		candidates = append(candidates, other)
	}
	candidates = append(candidates, vs)
	if !totalOrder(candidates) {
		c.logger.Error("fork detected: VSL does not admit a total order", "committing_user", c.active.String())
		return ErrForkDetected
	}

	priv, ok := c.keys[c.active]
	if !ok {
		return fmt.Errorf("%w: no private key registered for %s", ErrKeyAbsent, c.active)
	}
	sig, err := crypto.Sign(priv, vs.Bytes())
	if err != nil {
		return fmt.Errorf("client: post: sign vs: %w", err)
	}
	vs.Signature = sig

	if err := c.bc.Server().Commit(ctx, c.active, vs); err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	c.vsl[c.active] = vs
	c.logger.Info("committed vs", "user", c.active.String(), "version", vs.Versions[c.active])
	return nil
}

// checkNoRegression implements the third, independent half of fork
// consistency (spec.md §4.6, goal (c); Scenario S5): a previously observed
// VS must never disappear from a later VSL, nor reappear with a lower
// self-reported version, even when the remaining entries still admit a
// total order. Two clients each missing the other's latest commit would
// pass totalOrder (there's nothing left to compare against), so that check
// alone can't catch this half of the scenario — only comparing against what
// this client itself previously saw can.
func checkNoRegression(prev, next types.VSL) error {
	for _, p := range sortedVSLUsers(prev) {
		prevVS := prev[p]
		nextVS, ok := next[p]
		if !ok {
			return fmt.Errorf("%w: %s's previously observed vs is missing from the server's vsl", ErrForkDetected, p)
		}
		if nextVS.Versions[p] < prevVS.Versions[p] {
			return fmt.Errorf("%w: %s's vs regressed from version %d to %d", ErrForkDetected, p, prevVS.Versions[p], nextVS.Versions[p])
		}
	}
	return nil
}

// refreshMaps rebuilds usermap/groupmap from /.users and /.groups under the
// share's root, via the ordinary (permission-check-free) content path: every
// mounted client must be able to learn the registry before it can evaluate
// its own CanRead/CanWrite against anything else, so this step predates and
// bypasses the ordinary access check that Read/Readdir perform.
func (c *Client) refreshMaps(ctx context.Context, user types.Principal) error {
	entries, err := c.readDirEntries(ctx, user, c.root)
	if err != nil {
		return fmt.Errorf("client: refresh usermap/groupmap: %w", err)
	}
	if e, ok := findEntry(entries, ".users"); ok {
		blob, err := c.readFileContent(ctx, user, e)
		if err != nil {
			return fmt.Errorf("client: refresh usermap: %w", err)
		}
		m, err := DecodeUserMap(blob)
		if err != nil {
			return fmt.Errorf("client: refresh usermap: %w", err)
		}
		c.users.Replace(m)
	}
	if e, ok := findEntry(entries, ".groups"); ok {
		blob, err := c.readFileContent(ctx, user, e)
		if err != nil {
			return fmt.Errorf("client: refresh groupmap: %w", err)
		}
		m, err := DecodeGroupMap(blob)
		if err != nil {
			return fmt.Errorf("client: refresh groupmap: %w", err)
		}
		c.groups.Replace(m)
	}
	return nil
}

// versionVectorLE reports whether a <= b componentwise, treating a key
// missing from either map as version 0.
func versionVectorLE(a, b map[types.Principal]int) bool {
	keys := make(map[types.Principal]struct{}, len(a)+len(b))
	for p := range a {
		keys[p] = struct{}{}
	}
	for p := range b {
		keys[p] = struct{}{}
	}
	for p := range keys {
		if a[p] > b[p] {
			return false
		}
	}
	return true
}

func comparable(a, b map[types.Principal]int) bool {
	return versionVectorLE(a, b) || versionVectorLE(b, a)
}

// totalOrder reports whether every pair of version vectors in list is
// comparable — i.e. the VSL admits a total order (spec.md §4.6 step 4, P5).
func totalOrder(list []*types.VersionStruct) bool {
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			if !comparable(list[i].Versions, list[j].Versions) {
				return false
			}
		}
	}
	return true
}

func sortedVSLUsers(vsl types.VSL) []types.Principal {
	users := make([]types.Principal, 0, len(vsl))
	for u := range vsl {
		users = append(users, u)
	}
	return types.SortPrincipals(users)
}

func sortedPrincipals(m map[types.Principal]crypto.Hash) []types.Principal {
	principals := make([]types.Principal, 0, len(m))
	for p := range m {
		principals = append(principals, p)
	}
	return types.SortPrincipals(principals)
}

func sortedItablePrincipals(m map[types.Principal]*itable.Itable) []types.Principal {
	principals := make([]types.Principal, 0, len(m))
	for p := range m {
		principals = append(principals, p)
	}
	return types.SortPrincipals(principals)
}

// maxResolveDepth bounds indirection through group itables: a group's
// itable entry may point at a user's inode, but never at another group's
// (spec.md §9), so one hop through a group itable is all Resolve ever needs
// to follow.
const maxResolveDepth = 2

// Resolve follows i through itable indirection to the content-addressed
// hash of the underlying inode, following at most one group hop.
func (c *Client) Resolve(i types.I) (crypto.Hash, error) {
	return c.resolveDepth(i, 0)
}

func (c *Client) resolveDepth(i types.I, depth int) (crypto.Hash, error) {
	if depth >= maxResolveDepth {
		return crypto.Hash{}, fmt.Errorf("client: resolve: indirection too deep for %s", i)
	}
	t, ok := c.itables[i.P]
	if !ok {
		return crypto.Hash{}, fmt.Errorf("client: resolve: no itable for %s", i.P)
	}
	entry, err := t.Lookup(i.N)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("client: resolve %s: %w", i, err)
	}
	if entry.IsChild() {
		return c.resolveDepth(entry.Child, depth+1)
	}
	return entry.Ihash, nil
}

// ResolveNoFollow resolves i by exactly one itable lookup, returning the
// group's raw child I rather than following it into the member's itable.
// Scenario S4 needs this to observe that a group's inumber was repointed at
// a new owner without resolving all the way down to content.
func (c *Client) ResolveNoFollow(i types.I) (types.I, crypto.Hash, error) {
	t, ok := c.itables[i.P]
	if !ok {
		return types.I{}, crypto.Hash{}, fmt.Errorf("client: resolve: no itable for %s", i.P)
	}
	entry, err := t.Lookup(i.N)
	if err != nil {
		return types.I{}, crypto.Hash{}, fmt.Errorf("client: resolve %s: %w", i, err)
	}
	if entry.IsChild() {
		return entry.Child, crypto.Hash{}, nil
	}
	return types.I{}, entry.Ihash, nil
}

// Modmap updates the mapping i -> ihash, acting as modAs (spec.md §4.6's
// modmap, following original_source/secfs/tables.py's actual two-branch
// behavior rather than the more elaborate four-way sketch in prose: either
// i.P is modAs's own itable and the entry is set directly, or i.P is a
// group modAs belongs to, in which case the member's own entry is updated
// first and the group's child pointer is repointed at it).
func (c *Client) Modmap(modAs types.Principal, i types.I, ihash crypto.Hash) (types.I, error) {
	if i.P == modAs {
		return c.modmapDirect(modAs, i, ihash)
	}
	if !i.P.IsGroup() {
		return types.I{}, fmt.Errorf("%w: %s may not modify %s's itable", ErrPermissionDenied, modAs, i.P)
	}
	members, ok := c.groups.Members(i.P)
	if !ok || !principalIn(members, modAs) {
		return types.I{}, fmt.Errorf("%w: %s is not a member of %s", ErrPermissionDenied, modAs, i.P)
	}

	if i.Allocated() {
		child, _, err := c.ResolveNoFollow(i)
		if err == nil && child.Allocated() && child.P == modAs {
			// The group's child I already belongs to modAs: update it in
			// place and leave the group's own table untouched.
			return c.modmapDirect(modAs, child, ihash)
		}
	}

	memberI, err := c.modmapDirect(modAs, types.NewI(modAs), ihash)
	if err != nil {
		return types.I{}, err
	}

	groupTable, err := c.itableFor(i.P)
	if err != nil {
		return types.I{}, err
	}
	n := i.N
	if !i.Allocated() {
		n = groupTable.AllocateInumber()
	}
	groupTable.Set(n, itable.ChildEntry(memberI))
	return i.WithInumber(n), nil
}

// modmapDirect sets i's itable entry to ihash directly, allocating i's
// inumber in modAs's own itable if i was not yet allocated.
func (c *Client) modmapDirect(modAs types.Principal, i types.I, ihash crypto.Hash) (types.I, error) {
	if i.P != modAs {
		return types.I{}, fmt.Errorf("%w: %s may not modify %s's itable", ErrPermissionDenied, modAs, i.P)
	}
	t, err := c.itableFor(modAs)
	if err != nil {
		return types.I{}, err
	}
	n := i.N
	if !i.Allocated() {
		n = t.AllocateInumber()
	}
	t.Set(n, itable.IhashEntry(ihash))
	return i.WithInumber(n), nil
}

// itableFor returns modAs's itable, creating an empty one on first use (the
// principal has never committed a VS before, e.g. a brand new group or a
// user who has never yet written anything of their own).
func (c *Client) itableFor(owner types.Principal) (*itable.Itable, error) {
	if t, ok := c.itables[owner]; ok {
		return t, nil
	}
	if owner.IsUser() {
		if _, ok := c.PublicKey(owner); !ok {
			return nil, fmt.Errorf("%w: no public key known for %s", ErrKeyAbsent, owner)
		}
	}
	t, err := itable.Create(owner, c, c)
	if err != nil {
		return nil, fmt.Errorf("client: create itable for %s: %w", owner, err)
	}
	c.itables[owner] = t
	return t, nil
}
