package client

import (
	"context"
	"fmt"
	"time"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/inode"
	"github.com/opaquefs/securefs/itable"
	"github.com/opaquefs/securefs/types"
)

// DirListEntry is one entry returned by Readdir.
type DirListEntry struct {
	Name  string
	Child types.I
}

func now() int64 { return time.Now().Unix() }

// Init bootstraps a brand new share: it stores unencrypted /.users and
// /.groups files (so any client can learn the registry before it has
// been granted a content key for anything else, spec.md §3) and a root
// directory holding those two files and a ".." entry that points at
// itself, then commits owner's
// first VS. The returned I must be recorded (via SetRoot, here and by every
// later client of this share) out of band — nothing else names the root.
func (c *Client) Init(ctx context.Context, owner types.Principal, usersBlob, groupsBlob []byte) (types.I, error) {
	if err := c.Pre(ctx, owner); err != nil {
		return types.I{}, err
	}
	t, err := c.itableFor(owner)
	if err != nil {
		return types.I{}, err
	}

	usersI, err := c.storePlainFile(ctx, t, usersBlob)
	if err != nil {
		return types.I{}, fmt.Errorf("client: init: store .users: %w", err)
	}
	groupsI, err := c.storePlainFile(ctx, t, groupsBlob)
	if err != nil {
		return types.I{}, fmt.Errorf("client: init: store .groups: %w", err)
	}

	rootN := t.AllocateInumber()
	rootI := types.NewI(owner).WithInumber(rootN)
	rootEntries := []inode.DirEntry{
		{Name: "..", Child: rootI},
		{Name: ".users", Child: usersI},
		{Name: ".groups", Child: groupsI},
	}
	rootContent := inode.EncodeDirectory(rootEntries)
	rootContentHash, err := c.bc.Put(ctx, rootContent, nil)
	if err != nil {
		return types.I{}, fmt.Errorf("client: init: store root content: %w", err)
	}
	rootNode := inode.Inode{Kind: inode.KindDir, Size: uint64(len(rootContent)), Ctime: now(), Mtime: now(), Blocks: []crypto.Hash{rootContentHash}}
	rootIhash, err := c.bc.Put(ctx, rootNode.Bytes(), nil)
	if err != nil {
		return types.I{}, fmt.Errorf("client: init: store root inode: %w", err)
	}
	t.Set(rootN, itable.IhashEntry(rootIhash))

	c.SetRoot(rootI)
	c.active = owner
	if err := c.Post(ctx, true); err != nil {
		return types.I{}, err
	}
	return rootI, nil
}

// storePlainFile allocates an inumber in t for an unencrypted file holding
// blob, the shape /.users and /.groups both take (spec.md §3).
func (c *Client) storePlainFile(ctx context.Context, t *itable.Itable, blob []byte) (types.I, error) {
	contentHash, err := c.bc.Put(ctx, blob, nil)
	if err != nil {
		return types.I{}, err
	}
	nd := inode.Inode{Kind: inode.KindFile, Size: uint64(len(blob)), Ctime: now(), Mtime: now(), Blocks: []crypto.Hash{contentHash}}
	ihash, err := c.bc.Put(ctx, nd.Bytes(), nil)
	if err != nil {
		return types.I{}, err
	}
	n := t.AllocateInumber()
	i := types.NewI(t.Owner).WithInumber(n)
	t.Set(n, itable.IhashEntry(ihash))
	return i, nil
}

// findEntry is a small local alias for inode.FindEntry, used by Pre's
// refreshMaps step in vsl.go.
func findEntry(entries []inode.DirEntry, name string) (inode.DirEntry, bool) {
	return inode.FindEntry(entries, name)
}

// CreateFile allocates a new, empty file owned by owner (encrypted, unless
// encrypted is false) and links it into parent under name. acting_user need
// not equal owner: if owner names a group, user must belong to it
// (spec.md §4.3's create).
func (c *Client) CreateFile(ctx context.Context, user types.Principal, parent types.I, name string, owner types.Principal, encrypted bool) (types.I, error) {
	if err := c.Pre(ctx, user); err != nil {
		return types.I{}, err
	}
	child, err := c.createAndLink(ctx, user, parent, name, inode.KindFile, owner, encrypted)
	if err != nil {
		return types.I{}, err
	}
	if err := c.Post(ctx, true); err != nil {
		return types.I{}, err
	}
	return child, nil
}

// Mkdir allocates a new, empty directory (containing only "..") owned by
// owner and links it into parent under name. The same acting_user/owner
// rules as CreateFile apply.
func (c *Client) Mkdir(ctx context.Context, user types.Principal, parent types.I, name string, owner types.Principal, encrypted bool) (types.I, error) {
	if err := c.Pre(ctx, user); err != nil {
		return types.I{}, err
	}
	child, err := c.createAndLink(ctx, user, parent, name, inode.KindDir, owner, encrypted)
	if err != nil {
		return types.I{}, err
	}
	if err := c.Post(ctx, true); err != nil {
		return types.I{}, err
	}
	return child, nil
}

func (c *Client) createAndLink(ctx context.Context, user types.Principal, parent types.I, name string, kind inode.Kind, owner types.Principal, encrypted bool) (types.I, error) {
	if !c.CanWrite(user, parent.P) {
		return types.I{}, fmt.Errorf("%w: %s may not write into %s", ErrPermissionDenied, user, parent.P)
	}
	if owner != user {
		if !owner.IsGroup() {
			return types.I{}, fmt.Errorf("%w: %s may not create an entry owned by %s", ErrPermissionDenied, user, owner)
		}
		members, ok := c.groups.Members(owner)
		if !ok || !principalIn(members, user) {
			return types.I{}, fmt.Errorf("%w: %s is not a member of %s", ErrPermissionDenied, user, owner)
		}
	}
	if _, err := c.itableFor(owner); err != nil {
		return types.I{}, fmt.Errorf("client: create: itable for %s: %w", owner, err)
	}

	var content []byte
	if kind == inode.KindDir {
		content = inode.EncodeDirectory([]inode.DirEntry{{Name: "..", Child: parent}})
	}
	contentHash, err := c.storeContent(ctx, user, owner, content, encrypted)
	if err != nil {
		return types.I{}, fmt.Errorf("client: create: store content: %w", err)
	}
	nd := inode.Inode{Kind: kind, Size: uint64(len(content)), Encrypted: encrypted, Ctime: now(), Mtime: now(), Blocks: []crypto.Hash{contentHash}}
	ihash, err := c.bc.Put(ctx, nd.Bytes(), nil)
	if err != nil {
		return types.I{}, fmt.Errorf("client: create: store inode: %w", err)
	}
	childI, err := c.Modmap(user, types.NewI(owner), ihash)
	if err != nil {
		return types.I{}, fmt.Errorf("client: create: allocate inumber: %w", err)
	}

	if _, err := c.linkInto(ctx, user, parent, name, childI); err != nil {
		return types.I{}, err
	}
	return childI, nil
}

// Link adds an existing inode i to parent under name (a hard link: the two
// names now resolve to the same content). i is not required to be owned by
// user, only parent's owner must grant user write access.
func (c *Client) Link(ctx context.Context, user types.Principal, i, parent types.I, name string) error {
	if err := c.Pre(ctx, user); err != nil {
		return err
	}
	if _, err := c.linkInto(ctx, user, parent, name, i); err != nil {
		return err
	}
	return c.Post(ctx, true)
}

func (c *Client) linkInto(ctx context.Context, user types.Principal, parent types.I, name string, child types.I) (types.I, error) {
	if !c.CanWrite(user, parent.P) {
		return types.I{}, fmt.Errorf("%w: %s may not write into %s", ErrPermissionDenied, user, parent.P)
	}
	parentIhash, err := c.Resolve(parent)
	if err != nil {
		return types.I{}, fmt.Errorf("client: link: resolve parent: %w", err)
	}
	parentNode, err := c.loadInode(ctx, parentIhash)
	if err != nil {
		return types.I{}, fmt.Errorf("client: link: load parent: %w", err)
	}
	if parentNode.Kind != inode.KindDir {
		return types.I{}, ErrNotADirectory
	}
	entries, err := c.readContentDir(ctx, user, parent.P, parentNode)
	if err != nil {
		return types.I{}, fmt.Errorf("client: link: read parent entries: %w", err)
	}
	if _, exists := inode.FindEntry(entries, name); exists {
		return types.I{}, ErrNameExists
	}
	entries = append(entries, inode.DirEntry{Name: name, Child: child})

	newContent := inode.EncodeDirectory(entries)
	newContentHash, err := c.storeContent(ctx, user, parent.P, newContent, parentNode.Encrypted)
	if err != nil {
		return types.I{}, fmt.Errorf("client: link: store parent content: %w", err)
	}
	newNode := inode.Inode{
		Kind:       inode.KindDir,
		Size:       uint64(len(newContent)),
		Encrypted:  parentNode.Encrypted,
		Executable: parentNode.Executable,
		Ctime:      parentNode.Ctime,
		Mtime:      now(),
		Blocks:     []crypto.Hash{newContentHash},
	}
	newIhash, err := c.bc.Put(ctx, newNode.Bytes(), nil)
	if err != nil {
		return types.I{}, fmt.Errorf("client: link: store parent inode: %w", err)
	}
	return c.Modmap(user, parent, newIhash)
}

// Read returns up to size bytes of i's content starting at off. off past
// the end of content returns an empty slice, not an error.
func (c *Client) Read(ctx context.Context, user types.Principal, i types.I, off, size int) ([]byte, error) {
	if err := c.Pre(ctx, user); err != nil {
		return nil, err
	}
	if !c.CanRead(user, i.P) {
		return nil, fmt.Errorf("%w: %s may not read %s", ErrPermissionDenied, user, i)
	}
	ihash, err := c.Resolve(i)
	if err != nil {
		return nil, fmt.Errorf("client: read: resolve: %w", err)
	}
	nd, err := c.loadInode(ctx, ihash)
	if err != nil {
		return nil, fmt.Errorf("client: read: load inode: %w", err)
	}
	if nd.Kind != inode.KindFile {
		return nil, ErrIsADirectory
	}
	content, err := c.readContentDirect(ctx, user, i.P, nd)
	if err != nil {
		return nil, fmt.Errorf("client: read: %w", err)
	}
	if err := c.Post(ctx, false); err != nil {
		return nil, err
	}
	if off >= len(content) {
		return []byte{}, nil
	}
	end := off + size
	if end > len(content) || size < 0 {
		end = len(content)
	}
	return append([]byte(nil), content[off:end]...), nil
}

// Write splices buf into i's content at off, zero-padding any gap between
// the current end of content and off. It returns the number of bytes
// written, always len(buf) on success.
func (c *Client) Write(ctx context.Context, user types.Principal, i types.I, off int, buf []byte) (int, error) {
	if err := c.Pre(ctx, user); err != nil {
		return 0, err
	}
	if !c.CanWrite(user, i.P) {
		return 0, fmt.Errorf("%w: %s may not write %s", ErrPermissionDenied, user, i)
	}
	ihash, err := c.Resolve(i)
	if err != nil {
		return 0, fmt.Errorf("client: write: resolve: %w", err)
	}
	nd, err := c.loadInode(ctx, ihash)
	if err != nil {
		return 0, fmt.Errorf("client: write: load inode: %w", err)
	}
	if nd.Kind != inode.KindFile {
		return 0, ErrIsADirectory
	}
	content, err := c.readContentDirect(ctx, user, i.P, nd)
	if err != nil {
		return 0, fmt.Errorf("client: write: %w", err)
	}

	end := off + len(buf)
	newLen := len(content)
	if end > newLen {
		newLen = end
	}
	newContent := make([]byte, newLen)
	copy(newContent, content)
	copy(newContent[off:], buf)

	newContentHash, err := c.storeContent(ctx, user, i.P, newContent, nd.Encrypted)
	if err != nil {
		return 0, fmt.Errorf("client: write: store content: %w", err)
	}
	newNode := inode.Inode{
		Kind:       inode.KindFile,
		Size:       uint64(len(newContent)),
		Encrypted:  nd.Encrypted,
		Executable: nd.Executable,
		Ctime:      nd.Ctime,
		Mtime:      now(),
		Blocks:     []crypto.Hash{newContentHash},
	}
	newIhash, err := c.bc.Put(ctx, newNode.Bytes(), nil)
	if err != nil {
		return 0, fmt.Errorf("client: write: store inode: %w", err)
	}
	if _, err := c.Modmap(user, i, newIhash); err != nil {
		return 0, fmt.Errorf("client: write: modmap: %w", err)
	}
	if err := c.Post(ctx, true); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Readdir lists i's entries starting at index off.
func (c *Client) Readdir(ctx context.Context, user types.Principal, i types.I, off int) ([]DirListEntry, error) {
	if err := c.Pre(ctx, user); err != nil {
		return nil, err
	}
	if !c.CanRead(user, i.P) {
		return nil, fmt.Errorf("%w: %s may not read %s", ErrPermissionDenied, user, i)
	}
	entries, err := c.readDirEntries(ctx, user, i)
	if err != nil {
		return nil, fmt.Errorf("client: readdir: %w", err)
	}
	if err := c.Post(ctx, false); err != nil {
		return nil, err
	}
	if off >= len(entries) {
		return nil, nil
	}
	out := make([]DirListEntry, 0, len(entries)-off)
	for _, e := range entries[off:] {
		out = append(out, DirListEntry{Name: e.Name, Child: e.Child})
	}
	return out, nil
}

// Lookup resolves name within directory parent.
func (c *Client) Lookup(ctx context.Context, user types.Principal, parent types.I, name string) (types.I, error) {
	if err := c.Pre(ctx, user); err != nil {
		return types.I{}, err
	}
	if !c.CanRead(user, parent.P) {
		return types.I{}, fmt.Errorf("%w: %s may not read %s", ErrPermissionDenied, user, parent.P)
	}
	entries, err := c.readDirEntries(ctx, user, parent)
	if err != nil {
		return types.I{}, fmt.Errorf("client: lookup: %w", err)
	}
	e, ok := inode.FindEntry(entries, name)
	if !ok {
		return types.I{}, ErrNoSuchName
	}
	if err := c.Post(ctx, false); err != nil {
		return types.I{}, err
	}
	return e.Child, nil
}

func (c *Client) loadInode(ctx context.Context, ihash crypto.Hash) (inode.Inode, error) {
	blob, err := c.bc.Get(ctx, ihash, nil)
	if err != nil {
		return inode.Inode{}, err
	}
	return inode.Decode(blob)
}

// readDirEntries resolves i, loads its inode, and decodes its directory
// content, with no access check of its own — callers (Readdir, Lookup,
// refreshMaps) are each responsible for checking CanRead first, or for
// deliberately bypassing that check (refreshMaps, before the registry
// itself is known).
func (c *Client) readDirEntries(ctx context.Context, user types.Principal, i types.I) ([]inode.DirEntry, error) {
	ihash, err := c.Resolve(i)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	nd, err := c.loadInode(ctx, ihash)
	if err != nil {
		return nil, fmt.Errorf("load inode: %w", err)
	}
	return c.readContentDir(ctx, user, i.P, nd)
}

func (c *Client) readContentDir(ctx context.Context, user types.Principal, owner types.Principal, nd inode.Inode) ([]inode.DirEntry, error) {
	if nd.Kind != inode.KindDir {
		return nil, ErrNotADirectory
	}
	content, err := c.readContentDirect(ctx, user, owner, nd)
	if err != nil {
		return nil, err
	}
	return inode.DecodeDirectory(content)
}

// readFileContent reads the content of a directory entry directly, for
// refreshMaps's unchecked read of /.users and /.groups.
func (c *Client) readFileContent(ctx context.Context, user types.Principal, e inode.DirEntry) ([]byte, error) {
	ihash, err := c.Resolve(e.Child)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", e.Name, err)
	}
	nd, err := c.loadInode(ctx, ihash)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", e.Name, err)
	}
	return c.readContentDirect(ctx, user, e.Child.P, nd)
}

// readContentDirect fetches and, if needed, decrypts nd's (single) content
// block, unwrapping the itable content key owner's itable holds for user.
func (c *Client) readContentDirect(ctx context.Context, user types.Principal, owner types.Principal, nd inode.Inode) ([]byte, error) {
	if len(nd.Blocks) == 0 {
		return []byte{}, nil
	}
	var key *crypto.SymKey
	if nd.Encrypted {
		sk, err := c.unwrapContentKey(user, owner)
		if err != nil {
			return nil, err
		}
		key = &sk
	}
	return c.bc.Get(ctx, nd.Blocks[0], key)
}

// storeContent stores content, encrypting it under owner's itable content
// key (unwrapped for user) when encrypt is true.
func (c *Client) storeContent(ctx context.Context, user types.Principal, owner types.Principal, content []byte, encrypt bool) (crypto.Hash, error) {
	var key *crypto.SymKey
	if encrypt {
		sk, err := c.unwrapContentKey(user, owner)
		if err != nil {
			return crypto.Hash{}, err
		}
		key = &sk
	}
	return c.bc.Put(ctx, content, key)
}

func (c *Client) unwrapContentKey(user, owner types.Principal) (crypto.SymKey, error) {
	t, ok := c.itables[owner]
	if !ok {
		return crypto.SymKey{}, fmt.Errorf("client: no itable for %s", owner)
	}
	priv, ok := c.keys[user]
	if !ok {
		return crypto.SymKey{}, fmt.Errorf("%w: no private key for %s", ErrKeyAbsent, user)
	}
	key, ok, err := t.ContentKeyFor(user, priv)
	if err != nil {
		return crypto.SymKey{}, err
	}
	if !ok {
		return crypto.SymKey{}, fmt.Errorf("%w: %s has no wrapped content key under %s's itable", ErrKeyAbsent, user, owner)
	}
	return key, nil
}
