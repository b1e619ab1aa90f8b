package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"keygate.backend/pkg/crypto"
)

const (
	modePrefix = "prefix"
	modeHash   = "hash"
	modeBcrypt = "bcrypt"
	modeSecret = "secret"

	secretBytes = 32
)

var (
	stdout      io.Writer = os.Stdout
	fatalfFn              = log.Fatalf
	newHasherFn           = func() *crypto.Hasher { return crypto.NewHasher(crypto.DefaultArgon2Params()) }
)

// runHashGen prints key material for operators: the lookup prefix and
// stored hash of an existing key, a bcrypt digest for legacy imports, or a
// random signing secret.
func runHashGen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hash-gen", flag.ContinueOnError)
	fs.SetOutput(out)
	mode := fs.String("mode", modeHash, "output: prefix, hash, bcrypt or secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *mode == modeSecret {
		secret, err := crypto.GenerateRandomToken(secretBytes)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "JWT_SECRET=%s\n", secret)
		return nil
	}

	if fs.NArg() != 1 || fs.Arg(0) == "" {
		return errors.New("usage: hash-gen -mode prefix|hash|bcrypt <api-key>")
	}
	raw := fs.Arg(0)

	switch *mode {
	case modePrefix:
		_, _ = fmt.Fprintf(out, "key_prefix=%s\n", crypto.LookupPrefix(raw))
	case modeHash:
		hash, err := newHasherFn().Hash(raw)
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		_, _ = fmt.Fprintf(out, "key_prefix=%s\n", crypto.LookupPrefix(raw))
		_, _ = fmt.Fprintf(out, "key_hash=%s\n", hash)
	case modeBcrypt:
		hash, err := crypto.HashPassword(raw)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "key_prefix=%s\n", crypto.LookupPrefix(raw))
		_, _ = fmt.Fprintf(out, "key_hash=%s\n", hash)
	default:
		return fmt.Errorf("invalid mode: %s (allowed: prefix, hash, bcrypt, secret)", *mode)
	}
	return nil
}

func main() {
	if err := runHashGen(os.Args[1:], stdout); err != nil {
		fatalfFn("hash-gen: %v", err)
	}
}
