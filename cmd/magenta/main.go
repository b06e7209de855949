package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/magentakit/magenta/internal/blockutil"
	"github.com/magentakit/magenta/internal/cli"
	"github.com/magentakit/magenta/internal/manifest"
	"github.com/magentakit/magenta/internal/mhash"
	"github.com/magentakit/magenta/internal/observability"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(cli.ExitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	command := os.Args[1]
	args := os.Args[2:]

	var code int
	switch command {
	case "encrypt":
		code = encryptCmd(ctx, args)
	case "decrypt":
		code = decryptCmd(ctx, args)
	case "hash":
		code = hashCmd(ctx, args)
	case "sign":
		code = signCmd(ctx, args)
	case "verify":
		code = verifyCmd(ctx, args)
	case "seal":
		code = sealCmd(ctx, args)
	case "open":
		code = openCmd(ctx, args)
	case "manifest":
		code = manifestCmd(ctx, args)
	case "selfcheck":
		code = selfCheckCmd(ctx, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		code = cli.ExitError
	}
	stop()
	os.Exit(code)
}

// command is a subcommand taking -config and one input file.
type command struct {
	fs         *flag.FlagSet
	configPath *string
}

func newCommand(name, usage string) *command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := &command{fs: fs, configPath: cli.AddConfigFlag(fs)}
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: magenta %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return c
}

func (c *command) parse(ctx context.Context, args []string) (*cli.Env, string) {
	c.fs.Parse(args)
	if c.fs.NArg() != 1 {
		c.fs.Usage()
		os.Exit(cli.ExitError)
	}
	env, err := cli.Setup(ctx, "magenta", version, *c.configPath)
	if err != nil {
		cli.Fail("%v", err)
	}
	return env, c.fs.Arg(0)
}

func failed(op string, err error) int {
	fmt.Fprintf(os.Stderr, "Error: %s failed: %v\n", op, err)
	return cli.ExitError
}

func encryptCmd(ctx context.Context, args []string) int {
	c := newCommand("encrypt", "[-key NAME] [-o OUT] FILE")
	key := c.fs.String("key", "default", "Cipher key name or path")
	out := c.fs.String("o", "", "Output file (default: FILE plus the encrypted suffix)")
	env, in := c.parse(ctx, args)
	defer env.Close()

	res, err := env.Toolkit.EncryptFile(ctx, in, *out, *key)
	if err != nil {
		return failed("encryption", err)
	}

	fmt.Printf("Encrypted %s -> %s (%d -> %d bytes)\n", in, res.Output, res.PlainSize, res.CipherSize)
	if res.ManifestPath != "" {
		fmt.Printf("Manifest: %s\n", res.ManifestPath)
	}
	return cli.ExitOK
}

func decryptCmd(ctx context.Context, args []string) int {
	c := newCommand("decrypt", "[-key NAME] [-o OUT] FILE")
	key := c.fs.String("key", "default", "Cipher key name or path")
	out := c.fs.String("o", "", "Output file (default: FILE plus the decrypted suffix)")
	env, in := c.parse(ctx, args)
	defer env.Close()

	res, err := env.Toolkit.DecryptFile(ctx, in, *out, *key)
	if err != nil {
		return failed("decryption", err)
	}

	fmt.Printf("Decrypted %s -> %s (%d -> %d bytes)\n", in, res.Output, res.CipherSize, res.PlainSize)
	return cli.ExitOK
}

func hashCmd(ctx context.Context, args []string) int {
	c := newCommand("hash", "[-bytes] [-expect HEX] FILE")
	showBytes := c.fs.Bool("bytes", false, "Also print the digest byte by byte")
	expect := c.fs.String("expect", "", "Compare against this hex digest")
	env, in := c.parse(ctx, args)
	defer env.Close()

	var want mhash.Digest
	if *expect != "" {
		var err error
		if want, err = mhash.ParseDigest(*expect); err != nil {
			fmt.Fprintf(os.Stderr, "Error: -expect: %v\n", err)
			return cli.ExitError
		}
	}

	res, err := env.Toolkit.HashFile(ctx, in)
	if err != nil {
		return failed("hashing", err)
	}

	fmt.Printf("%s  %s\n", res.Digest, in)
	if *showBytes {
		fmt.Println(blockutil.FormatBytes(res.Digest[:]))
	}
	if *expect != "" && res.Digest != want {
		fmt.Printf("%s: digest does not match %s\n", in, want)
		return cli.ExitMismatch
	}
	return cli.ExitOK
}

func signCmd(ctx context.Context, args []string) int {
	c := newCommand("sign", "[-key NAME] FILE")
	key := c.fs.String("key", "signing", "Private key name or path")
	env, in := c.parse(ctx, args)
	defer env.Close()

	res, err := env.Toolkit.SignFile(ctx, in, *key)
	if err != nil {
		return failed("signing", err)
	}

	fmt.Printf("Signature:  %s\n", res.SignaturePath)
	fmt.Printf("Public key: %s\n", res.PublicKeyPath)
	return cli.ExitOK
}

func verifyCmd(ctx context.Context, args []string) int {
	c := newCommand("verify", "[-sig PATH] [-pub NAME] FILE")
	sig := c.fs.String("sig", "", "Signature file (default: FILE plus the signature suffix)")
	pub := c.fs.String("pub", "", "Public key name or path (default: FILE plus the public key suffix)")
	env, in := c.parse(ctx, args)
	defer env.Close()

	res, err := env.Toolkit.VerifyFile(ctx, in, *sig, *pub)
	if err != nil {
		return failed("verification", err)
	}

	if !res.Verified {
		fmt.Printf("%s: signature INVALID\n", in)
		return cli.ExitMismatch
	}
	fmt.Printf("%s: signature OK (%s)\n", in, res.MarkerPath)
	return cli.ExitOK
}

func sealCmd(ctx context.Context, args []string) int {
	c := newCommand("seal", "[-key NAME] [-sign NAME] [-o OUT] FILE")
	key := c.fs.String("key", "default", "Cipher key name or path")
	priv := c.fs.String("sign", "signing", "Private key name or path")
	out := c.fs.String("o", "", "Output file (default: FILE plus the sealed suffix)")
	env, in := c.parse(ctx, args)
	defer env.Close()

	res, err := env.Toolkit.SealFile(ctx, in, *out, *key, *priv)
	if err != nil {
		return failed("sealing", err)
	}

	fmt.Printf("Sealed %s -> %s (%d -> %d bytes)\n", in, res.Output, res.PlainSize, res.CipherSize)
	fmt.Printf("Public key: %s\n", res.PublicKeyPath)
	if res.ManifestPath != "" {
		fmt.Printf("Manifest: %s\n", res.ManifestPath)
	}
	return cli.ExitOK
}

func openCmd(ctx context.Context, args []string) int {
	c := newCommand("open", "[-key NAME] [-pub NAME] [-o OUT] FILE")
	key := c.fs.String("key", "default", "Cipher key name or path")
	pub := c.fs.String("pub", "", "Public key name or path (default: FILE plus the public key suffix)")
	out := c.fs.String("o", "", "Output file (default: FILE plus the decrypted suffix)")
	env, in := c.parse(ctx, args)
	defer env.Close()

	res, err := env.Toolkit.OpenFile(ctx, in, *out, *key, *pub)
	if err != nil {
		return failed("opening", err)
	}

	if !res.Verified {
		fmt.Printf("Opened %s -> %s, signature INVALID\n", in, res.Output)
		return cli.ExitMismatch
	}
	fmt.Printf("Opened %s -> %s (%d bytes), signature OK\n", in, res.Output, res.Size)
	return cli.ExitOK
}

func manifestCmd(ctx context.Context, args []string) int {
	if len(args) < 1 || args[0] != "verify" {
		fmt.Fprintln(os.Stderr, "Usage: magenta manifest verify [-m MANIFEST] FILE")
		return cli.ExitError
	}
	c := newCommand("manifest verify", "[-m MANIFEST] FILE")
	path := c.fs.String("m", "", "Manifest file (default: FILE plus "+manifest.Suffix+")")
	env, in := c.parse(ctx, args[1:])
	defer env.Close()

	m, err := env.Toolkit.VerifyManifest(ctx, in, *path)
	if err != nil {
		var chunkErr *manifest.ChunkMismatchError
		switch {
		case errors.As(err, &chunkErr):
			fmt.Printf("%s: chunk %d does not match manifest\n", in, chunkErr.Index)
			return cli.ExitMismatch
		case errors.Is(err, manifest.ErrFingerprintMismatch), errors.Is(err, manifest.ErrSizeMismatch):
			fmt.Printf("%s: %v\n", in, err)
			return cli.ExitMismatch
		}
		return failed("manifest verification", err)
	}

	fmt.Printf("%s: matches manifest %s (%d chunks)\n", in, m.ID, len(m.Chunks))
	return cli.ExitOK
}

func selfCheckCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("selfcheck", flag.ExitOnError)
	configPath := cli.AddConfigFlag(fs)
	fs.Parse(args)

	env, err := cli.Setup(ctx, "magenta", version, *configPath)
	if err != nil {
		cli.Fail("%v", err)
	}
	defer env.Close()

	resp := env.Toolkit.SelfCheck(ctx, version)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return failed("selfcheck", err)
	}

	if resp.Status == observability.HealthStatusUnhealthy {
		return cli.ExitError
	}
	return cli.ExitOK
}

func printUsage() {
	fmt.Println("MAGENTA file toolkit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  magenta encrypt [-key NAME] [-o OUT] FILE          Encrypt a file")
	fmt.Println("  magenta decrypt [-key NAME] [-o OUT] FILE          Decrypt a file")
	fmt.Println("  magenta hash [-bytes] [-expect HEX] FILE           Print or check the MAGENTA hash of a file")
	fmt.Println("  magenta sign [-key NAME] FILE                      Sign a file")
	fmt.Println("  magenta verify [-sig PATH] [-pub NAME] FILE        Verify a file signature")
	fmt.Println("  magenta seal [-key NAME] [-sign NAME] [-o OUT] FILE  Sign and encrypt a file")
	fmt.Println("  magenta open [-key NAME] [-pub NAME] [-o OUT] FILE   Decrypt and verify a sealed file")
	fmt.Println("  magenta manifest verify [-m MANIFEST] FILE         Check a file against its manifest")
	fmt.Println("  magenta selfcheck                                  Run known-answer self-checks")
	fmt.Println("  magenta version                                    Print the version")
	fmt.Println()
	fmt.Println("All commands accept -config PATH. Exit status is 2 when a check fails.")
}
