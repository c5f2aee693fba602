package client

import (
	"crypto/rsa"
	"io"
	"log/slog"

	"github.com/opaquefs/securefs/block"
	"github.com/opaquefs/securefs/itable"
	"github.com/opaquefs/securefs/secfslog"
	"github.com/opaquefs/securefs/types"
)

// Client is the consolidated handle spec.md §9 calls for: every piece of
// state the original implementation keeps as package globals (keys, vsl,
// itables, usermap, groupmap, server) lives here instead, so tests and a
// FUSE-style frontend can each own independent clients against the same or
// different servers.
type Client struct {
	cfg Config
	bc  *block.Client

	keys      map[types.Principal]*rsa.PrivateKey
	bootstrap map[types.Principal]*rsa.PublicKey

	vsl     types.VSL
	itables map[types.Principal]*itable.Itable
	users   *UserMap
	groups  *GroupMap

	active  types.Principal
	root    types.I
	rootSet bool

	logger *slog.Logger
}

// New constructs a Client around server (optionally cached). cfg is
// validated with ValidateConfig by the caller; New does not re-validate it,
// so tests can build a Client straight from a zero Config plus an explicit
// logger destination.
func New(cfg Config, server block.Server, cache *block.Cache) *Client {
	return &Client{
		cfg:       cfg,
		bc:        block.NewClient(server, cache),
		keys:      make(map[types.Principal]*rsa.PrivateKey),
		bootstrap: make(map[types.Principal]*rsa.PublicKey),
		vsl:       make(types.VSL),
		itables:   make(map[types.Principal]*itable.Itable),
		users:     NewUserMap(),
		groups:    NewGroupMap(),
		logger:    secfslog.New(io.Discard, cfg.LogLevel),
	}
}

// SetLogOutput redirects this client's logger, e.g. to os.Stderr from a CLI
// entry point. New defaults to discarding log output so library callers
// (and tests) never see it unless they ask.
func (c *Client) SetLogOutput(w io.Writer) {
	c.logger = secfslog.New(w, c.cfg.LogLevel)
}

// RegisterKey makes priv available for operations acting as user — the
// client-local equivalent of the on-disk user-<uid>-key.pem file being
// loaded (spec.md §6).
func (c *Client) RegisterKey(user types.Principal, priv *rsa.PrivateKey) {
	c.keys[user] = priv
}

// TrustBootstrapKey registers a public key to verify VSes against before
// /.users exists to supply one — the "local keyring" spec.md §4.6 step 2
// allows during bootstrap.
func (c *Client) TrustBootstrapKey(user types.Principal, pub *rsa.PublicKey) {
	c.bootstrap[user] = pub
}

// SetGroup seeds the groupmap directly, for tests and for bootstrap flows
// that haven't yet written a /.groups file to read it back from.
func (c *Client) SetGroup(group types.Principal, members []types.Principal) {
	c.groups.Set(group, members)
}

// SetRoot records the share's root I, as returned by Init and otherwise
// persisted out-of-band by the caller (spec.md §6).
func (c *Client) SetRoot(root types.I) {
	c.root = root
	c.rootSet = true
}

// Root returns the share's root I, if one has been set.
func (c *Client) Root() (types.I, bool) {
	return c.root, c.rootSet
}

// PublicKey implements itable.PublicKeyLookup, consulting the live usermap
// first and falling back to the bootstrap keyring.
func (c *Client) PublicKey(user types.Principal) (*rsa.PublicKey, bool) {
	if pub, ok := c.users.PublicKey(user); ok {
		return pub, ok
	}
	pub, ok := c.bootstrap[user]
	return pub, ok
}

// Members implements itable.MemberLookup.
func (c *Client) Members(group types.Principal) ([]types.Principal, bool) {
	return c.groups.Members(group)
}

func principalIn(list []types.Principal, p types.Principal) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}
	return false
}
