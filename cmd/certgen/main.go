// certgen creates a plugin certificate: a Curve25519 key pair written as
// PEM files, and the plugin address derived from the public key.
//
// Usage:
//
//	certgen --out ./keys --name weather
//
// writes keys/weather.pub.pem and keys/weather.key.pem and prints the
// address to register with the station's plugin directory.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/opd-ai/botcomet/crypto"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		outDir string
		name   string
		force  bool
	)

	flagSet := pflag.NewFlagSet("certgen", pflag.ContinueOnError)
	flagSet.StringVar(&outDir, "out", ".", "directory to write the key files to")
	flagSet.StringVar(&name, "name", "plugin", "base name of the key files")
	flagSet.BoolVar(&force, "force", false, "overwrite existing key files")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cert, err := crypto.GenerateCertificate()
	if err != nil {
		return err
	}
	defer cert.Wipe()

	publicPEM, privatePEM := cert.PEM()
	defer crypto.ZeroBytes(privatePEM)

	publicPath := filepath.Join(outDir, name+".pub.pem")
	privatePath := filepath.Join(outDir, name+".key.pem")
	if err := writeKey(publicPath, publicPEM, 0o644, force); err != nil {
		return err
	}
	if err := writeKey(privatePath, privatePEM, 0o600, force); err != nil {
		return err
	}

	publicKey := cert.PublicKey()
	fmt.Printf("address:    %s\n", cert.Address())
	fmt.Printf("public key: %s\n", hex.EncodeToString(publicKey[:]))
	fmt.Printf("wrote %s and %s\n", publicPath, privatePath)
	return nil
}

func writeKey(path string, data []byte, perm os.FileMode, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
