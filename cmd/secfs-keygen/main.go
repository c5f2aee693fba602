// Command secfs-keygen generates an RSA-2048 keypair for one principal,
// saving the private half under datadir the way spec.md §6 names it
// (user-<uid>-key.pem) and printing the public half so it can be handed to
// whoever runs secfs-init to build the share's /.users file.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/opaquefs/securefs/client"
	"github.com/opaquefs/securefs/crypto"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("secfs-keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	datadir := fs.String("datadir", client.DefaultDataDir(), "directory to write the private key into")
	uid := fs.Int("uid", -1, "numeric user id to generate a key for (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *uid < 0 {
		fmt.Fprintln(stderr, "secfs-keygen: -uid is required and must be >= 0")
		return 2
	}

	if err := os.MkdirAll(*datadir, 0o750); err != nil {
		fmt.Fprintf(stderr, "secfs-keygen: create datadir: %v\n", err)
		return 1
	}

	priv, err := crypto.GenKeyPair()
	if err != nil {
		fmt.Fprintf(stderr, "secfs-keygen: generate keypair: %v\n", err)
		return 1
	}

	name := fmt.Sprintf("user-%d-key.pem", *uid)
	if err := crypto.SavePrivateKeyFile(*datadir, name, priv); err != nil {
		fmt.Fprintf(stderr, "secfs-keygen: save private key: %v\n", err)
		return 1
	}

	pubPEM, err := crypto.EncodePublicPEM(&priv.PublicKey)
	if err != nil {
		fmt.Fprintf(stderr, "secfs-keygen: encode public key: %v\n", err)
		return 1
	}

	fmt.Fprintf(stderr, "secfs-keygen: wrote %s/%s\n", *datadir, name)
	fmt.Fprint(stdout, string(pubPEM))
	return 0
}
