// Command secfs-init bootstraps a new share against a running BlockServer:
// it loads (or generates) the owner's keypair, writes the initial /.users
// and /.groups files, and commits the owner's first VersionStruct. The
// resulting root I is printed so it can be distributed out of band to every
// client that will mount this share (spec.md §6 — nothing else names root).
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/opaquefs/securefs/block"
	"github.com/opaquefs/securefs/client"
	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("secfs-init", flag.ContinueOnError)
	fs.SetOutput(stderr)

	defaults := client.DefaultConfig()
	serverURL := fs.String("server-url", "", "base URL of the BlockServer (required)")
	datadir := fs.String("datadir", defaults.DataDir, "directory holding this principal's private key")
	ownerUID := fs.Int("owner-uid", -1, "numeric user id of the share's owner (required)")
	logLevel := fs.String("log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *serverURL == "" {
		fmt.Fprintln(stderr, "secfs-init: -server-url is required")
		return 2
	}
	if *ownerUID < 0 {
		fmt.Fprintln(stderr, "secfs-init: -owner-uid is required and must be >= 0")
		return 2
	}

	cfg := client.Config{DataDir: *datadir, LogLevel: *logLevel}
	if err := client.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "secfs-init: invalid config: %v\n", err)
		return 2
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		fmt.Fprintf(stderr, "secfs-init: create datadir: %v\n", err)
		return 1
	}

	owner := types.User(*ownerUID)
	keyName := fmt.Sprintf("user-%d-key.pem", *ownerUID)
	priv, err := crypto.LoadPrivateKeyFile(cfg.DataDir, keyName)
	if err != nil {
		priv, err = crypto.GenKeyPair()
		if err != nil {
			fmt.Fprintf(stderr, "secfs-init: generate owner keypair: %v\n", err)
			return 1
		}
		if err := crypto.SavePrivateKeyFile(cfg.DataDir, keyName, priv); err != nil {
			fmt.Fprintf(stderr, "secfs-init: save owner keypair: %v\n", err)
			return 1
		}
	}

	usersBlob, err := client.EncodeUserMap(map[types.Principal]*rsa.PublicKey{owner: &priv.PublicKey})
	if err != nil {
		fmt.Fprintf(stderr, "secfs-init: encode .users: %v\n", err)
		return 1
	}
	groupsBlob, err := client.EncodeGroupMap(map[types.Principal][]types.Principal{})
	if err != nil {
		fmt.Fprintf(stderr, "secfs-init: encode .groups: %v\n", err)
		return 1
	}

	server := block.NewHTTPServer(*serverURL, nil)
	cl := client.New(cfg, server, nil)
	cl.SetLogOutput(stderr)
	cl.RegisterKey(owner, priv)
	cl.TrustBootstrapKey(owner, &priv.PublicKey)

	rootI, err := cl.Init(context.Background(), owner, usersBlob, groupsBlob)
	if err != nil {
		fmt.Fprintf(stderr, "secfs-init: init: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "root: %s\n", rootI)
	return 0
}
