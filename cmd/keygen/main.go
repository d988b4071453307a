// Command keygen generates an Ed25519 key pair and writes it to disk in
// the format pkg/sig.LoadKeyPairFile reads, mirroring the teacher's
// cmd/sign-order in spirit (a small offline utility around pkg/sig/pkg/crypto)
// but producing a peer identity instead of a one-off signed order.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cposnet/peer/pkg/sig"
)

func main() {
	out := flag.String("out", "peer.key", "path to write the generated keypair file")
	force := flag.Bool("force", false, "overwrite an existing keypair file")
	flag.Parse()

	if !*force {
		if _, err := os.Stat(*out); err == nil {
			fmt.Fprintf(os.Stderr, "keygen: %s already exists, pass -force to overwrite\n", *out)
			os.Exit(1)
		}
	}

	kp, err := sig.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
	if err := kp.WriteKeyPairFile(*out); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote keypair to %s\n", *out)
	fmt.Printf("public key: %s\n", kp.PublicKeyHex())
}
