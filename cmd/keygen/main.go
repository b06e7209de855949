package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/magentakit/magenta/internal/blockutil"
	"github.com/magentakit/magenta/internal/cli"
	"github.com/magentakit/magenta/internal/keystore"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(cli.ExitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	args := os.Args[2:]

	var code int
	switch command {
	case "generate":
		code = generateCmd(ctx, args)
	case "dskey":
		code = dsKeyCmd(ctx, args)
	case "derive":
		code = deriveCmd(ctx, args)
	case "rederive":
		code = rederiveCmd(ctx, args)
	case "show":
		code = showCmd(args)
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

func setup(ctx context.Context, configPath string) *cli.Env {
	env, err := cli.Setup(ctx, "magenta-keygen", version, configPath)
	if err != nil {
		cli.Fail("%v", err)
	}
	return env
}

func generateCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := cli.AddConfigFlag(fs)
	name := fs.String("name", "default", "Key name or path")
	force := fs.Bool("force", false, "Overwrite an existing key")
	fs.Parse(args)

	env := setup(ctx, *configPath)
	defer env.Close()

	res, err := env.Toolkit.GenerateCipherKey(ctx, *name, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
		return cli.ExitError
	}

	fmt.Printf("Cipher key written to %s\n", res.Path)
	return cli.ExitOK
}

func dsKeyCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("dskey", flag.ExitOnError)
	configPath := cli.AddConfigFlag(fs)
	name := fs.String("name", "signing", "Key name or path")
	force := fs.Bool("force", false, "Overwrite an existing key")
	fs.Parse(args)

	env := setup(ctx, *configPath)
	defer env.Close()

	res, err := env.Toolkit.GenerateSigningKey(ctx, *name, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating signing key: %v\n", err)
		return cli.ExitError
	}

	fmt.Printf("Private key: %s\n", res.Path)
	fmt.Printf("Public key:  %s\n", res.PublicKeyPath)
	fmt.Printf("y = %s\n", res.PublicKey.String())
	return cli.ExitOK
}

func deriveCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	configPath := cli.AddConfigFlag(fs)
	name := fs.String("name", "default", "Key name or path")
	force := fs.Bool("force", false, "Overwrite an existing key")
	fs.Parse(args)

	env := setup(ctx, *configPath)
	defer env.Close()

	pass, err := readPassphrase("Enter passphrase: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading passphrase: %v\n", err)
		return cli.ExitError
	}
	confirm, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading passphrase: %v\n", err)
		return cli.ExitError
	}
	if pass != confirm {
		fmt.Fprintln(os.Stderr, "Error: passphrases do not match")
		return cli.ExitError
	}

	res, err := env.Toolkit.DeriveCipherKey(ctx, *name, pass, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error deriving key: %v\n", err)
		return cli.ExitError
	}

	fmt.Printf("Cipher key written to %s\n", res.Path)
	fmt.Printf("Salt written to %s\n", res.Path+keystore.SaltSuffix)
	return cli.ExitOK
}

func rederiveCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("rederive", flag.ExitOnError)
	configPath := cli.AddConfigFlag(fs)
	name := fs.String("name", "default", "Key name or path")
	fs.Parse(args)

	env := setup(ctx, *configPath)
	defer env.Close()

	pass, err := readPassphrase("Enter passphrase: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading passphrase: %v\n", err)
		return cli.ExitError
	}

	res, err := env.Toolkit.RederiveCipherKey(ctx, *name, pass)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error rederiving key: %v\n", err)
		return cli.ExitError
	}

	fmt.Printf("Cipher key restored to %s\n", res.Path)
	return cli.ExitOK
}

func showCmd(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := cli.AddConfigFlag(fs)
	name := fs.String("name", "default", "Key name or path")
	public := fs.Bool("public", false, "Show a public signing key")
	fs.Parse(args)

	env := setup(context.Background(), *configPath)
	defer env.Close()

	path, err := env.Config.KeyPath(*name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.ExitError
	}

	if *public || filepath.Ext(path) == env.Config.Suffixes.PublicKey {
		y, err := keystore.LoadPublicKey(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading public key: %v\n", err)
			return cli.ExitError
		}
		printPublicKey(path, y)
		return cli.ExitOK
	}

	key, err := keystore.LoadCipherKey(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading key: %v\n", err)
		return cli.ExitError
	}

	fmt.Printf("Key:  %s\n", path)
	fmt.Printf("Size: %d bits\n", len(key)*8)
	fmt.Println(blockutil.FormatBytes(key))
	if salt, err := keystore.LoadSalt(path); err == nil {
		fmt.Printf("Derived: argon2id t=%d m=%dKiB p=%d\n", salt.Params.Time, salt.Params.Memory, salt.Params.Threads)
	}
	return cli.ExitOK
}

func printPublicKey(path string, y *big.Int) {
	fmt.Printf("Public key: %s\n", path)
	fmt.Printf("Bits:       %d\n", y.BitLen())
	fmt.Printf("y = %s\n", y.String())
	fmt.Println(blockutil.FormatBytes(y.Bytes()))
}

func readPassphrase(prompt string) (string, error) {
	fmt.Print(prompt)
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pass), nil
}

func printUsage() {
	fmt.Println("MAGENTA Key Management Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  keygen generate [-name NAME] [-force]      Generate a random 128-bit cipher key")
	fmt.Println("  keygen dskey [-name NAME] [-force]         Generate a signing key pair")
	fmt.Println("  keygen derive [-name NAME] [-force]        Derive a cipher key from a passphrase")
	fmt.Println("  keygen rederive [-name NAME]               Restore a derived key from its salt")
	fmt.Println("  keygen show [-name NAME] [-public]         Display a key")
	fmt.Println()
	fmt.Println("All commands accept -config PATH.")
}
