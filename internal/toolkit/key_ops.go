package toolkit

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/magentakit/magenta/internal/ds"
	"github.com/magentakit/magenta/internal/keystore"
	"github.com/magentakit/magenta/internal/observability"
	"github.com/magentakit/magenta/internal/validation"
)

// ErrKeyExists is returned when a key generation would overwrite a file.
var ErrKeyExists = keystore.ErrKeyExists

// KeyResult reports generated key material.
type KeyResult struct {
	Path          string
	PublicKeyPath string
	CipherKey     []byte
	PrivateKey    *big.Int
	PublicKey     *big.Int
}

func (t *Toolkit) keyTarget(ref string, overwrite bool) (string, error) {
	path, err := t.cfg.KeyPath(ref)
	if err != nil {
		return "", err
	}
	if overwrite {
		return path, nil
	}
	// early refusal before costly derivation; the write itself is exclusive
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrKeyExists, path)
	}
	return path, nil
}

// GenerateCipherKey writes a random 16-byte cipher key to ref.
func (t *Toolkit) GenerateCipherKey(ctx context.Context, ref string, overwrite bool) (*KeyResult, error) {
	res := &KeyResult{}
	err := t.run(ctx, "keygen_cipher", []attribute.KeyValue{
		attribute.String("magenta.key_ref", ref),
	}, func(ctx context.Context, log *observability.Logger) error {
		path, err := t.keyTarget(ref, overwrite)
		if err != nil {
			return err
		}
		key, err := keystore.GenerateCipherKey(t.rand)
		if err != nil {
			return err
		}
		if err := keystore.SaveCipherKey(path, key, overwrite); err != nil {
			return err
		}
		res.Path, res.CipherKey = path, key
		t.metrics.RecordKeyGenerated("cipher")
		log.KeyGenerated("cipher", path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeriveCipherKey derives a cipher key for ref from passphrase with a fresh
// salt stored next to the key.
func (t *Toolkit) DeriveCipherKey(ctx context.Context, ref, passphrase string, overwrite bool) (*KeyResult, error) {
	res := &KeyResult{}
	err := t.run(ctx, "keygen_derive", []attribute.KeyValue{
		attribute.String("magenta.key_ref", ref),
	}, func(ctx context.Context, log *observability.Logger) error {
		if err := validation.ValidateStringNonEmpty(passphrase); err != nil {
			return fmt.Errorf("passphrase: %w", err)
		}
		path, err := t.keyTarget(ref, overwrite)
		if err != nil {
			return err
		}
		key, err := keystore.DeriveAndSave(path, passphrase, t.cfg.Argon2, t.rand, overwrite)
		if err != nil {
			return err
		}
		res.Path, res.CipherKey = path, key
		t.metrics.RecordKeyGenerated("passphrase")
		log.KeyGenerated("passphrase", path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RederiveCipherKey recomputes a passphrase key from its salt file and
// rewrites the key file.
func (t *Toolkit) RederiveCipherKey(ctx context.Context, ref, passphrase string) (*KeyResult, error) {
	res := &KeyResult{}
	err := t.run(ctx, "keygen_rederive", []attribute.KeyValue{
		attribute.String("magenta.key_ref", ref),
	}, func(ctx context.Context, log *observability.Logger) error {
		if err := validation.ValidateStringNonEmpty(passphrase); err != nil {
			return fmt.Errorf("passphrase: %w", err)
		}
		path, err := t.cfg.KeyPath(ref)
		if err != nil {
			return err
		}
		key, err := keystore.Rederive(path, passphrase)
		if err != nil {
			return err
		}
		if err := keystore.SaveCipherKey(path, key, true); err != nil {
			return err
		}
		res.Path, res.CipherKey = path, key
		log.KeyGenerated("passphrase", path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GenerateSigningKey writes a random private key x in [2, q) to ref and its
// public key next to it.
func (t *Toolkit) GenerateSigningKey(ctx context.Context, ref string, overwrite bool) (*KeyResult, error) {
	res := &KeyResult{}
	err := t.run(ctx, "keygen_signing", []attribute.KeyValue{
		attribute.String("magenta.key_ref", ref),
	}, func(ctx context.Context, log *observability.Logger) error {
		path, err := t.keyTarget(ref, overwrite)
		if err != nil {
			return err
		}
		x, err := ds.GenerateKey(t.rand)
		if err != nil {
			return err
		}
		y := ds.PublicKey(x)
		pubPath := path + t.cfg.Suffixes.PublicKey

		if err := keystore.SavePrivateKey(path, x, overwrite); err != nil {
			return err
		}
		if err := keystore.SavePublicKey(pubPath, y); err != nil {
			return err
		}

		res.Path, res.PublicKeyPath = path, pubPath
		res.PrivateKey, res.PublicKey = x, y
		t.metrics.RecordKeyGenerated("signing")
		log.KeyGenerated("signing", path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
