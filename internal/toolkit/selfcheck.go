package toolkit

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/magentakit/magenta/internal/blockutil"
	"github.com/magentakit/magenta/internal/ds"
	"github.com/magentakit/magenta/internal/magenta"
	"github.com/magentakit/magenta/internal/mhash"
	"github.com/magentakit/magenta/internal/observability"
	"github.com/magentakit/magenta/internal/pbc"
)

// Known answers for the zero key and message.
const (
	zeroBlockCiphertext = "ca7d2b729ff35fbd75e8c72e8049f7d4"
	emptyDigest         = "890fa0c21bc9f0cdd3c58f857264ce94"
)

// SelfCheck runs known-answer and round-trip checks on every primitive and
// inspects the key directory.
func (t *Toolkit) SelfCheck(ctx context.Context, version string) observability.HealthCheckResponse {
	hc := observability.NewHealthChecker(version)
	hc.RegisterCheck("cipher", checkCipher)
	hc.RegisterCheck("hash", checkHash)
	hc.RegisterCheck("codec", checkCodec)
	hc.RegisterCheck("signature", t.checkSignature)
	hc.RegisterCheck("keys_dir", t.checkKeysDir)

	var resp observability.HealthCheckResponse
	t.run(ctx, "selfcheck", nil, func(ctx context.Context, log *observability.Logger) error {
		resp = hc.Check(ctx)
		if resp.Status == observability.HealthStatusUnhealthy {
			return errors.New("self check failed")
		}
		return nil
	})
	return resp
}

func checkCipher(context.Context) (string, error) {
	var zero blockutil.Block
	c := magenta.New128(zero)
	got := c.EncryptBlock(zero)
	if hex.EncodeToString(got[:]) != zeroBlockCiphertext {
		return "", fmt.Errorf("zero block encrypts to %x", got)
	}
	if c.DecryptBlock(got) != zero {
		return "", errors.New("decryption does not invert encryption")
	}
	for _, n := range []int{24, 32} {
		c, err := magenta.NewCipher(make([]byte, n))
		if err != nil {
			return "", err
		}
		if c.DecryptBlock(c.EncryptBlock(zero)) != zero {
			return "", fmt.Errorf("%v round trip failed", c.KeySize())
		}
	}
	return "known answer and round trips ok", nil
}

func checkHash(context.Context) (string, error) {
	if got := mhash.SumBytes(nil).String(); got != emptyDigest {
		return "", fmt.Errorf("empty input hashes to %s", got)
	}
	return "known answer ok", nil
}

func checkCodec(context.Context) (string, error) {
	msg := []byte("magenta self check")
	for _, n := range []int{16, 32} {
		c, err := magenta.NewCipher(make([]byte, n))
		if err != nil {
			return "", err
		}
		codec := pbc.NewCodecFromCipher(c)

		var ct, pt bytes.Buffer
		if _, err := codec.Encrypt(bytes.NewReader(msg), &ct); err != nil {
			return "", err
		}
		if err := codec.Decrypt(&ct, &pt); err != nil {
			return "", err
		}
		if !bytes.Equal(pt.Bytes(), msg) {
			return "", fmt.Errorf("%v round trip mismatch", c.KeySize())
		}
	}
	return "round trips ok", nil
}

func (t *Toolkit) checkSignature(context.Context) (string, error) {
	g := ds.Default.G
	if new(big.Int).Exp(g, ds.Default.Q, ds.Default.P).Cmp(big.NewInt(1)) != 0 {
		return "", errors.New("generator does not have order q")
	}
	x, err := ds.GenerateKey(t.rand)
	if err != nil {
		return "", err
	}
	msg := []byte("magenta self check")
	y, sig, err := ds.Sign(t.rand, bytes.NewReader(msg), x)
	if err != nil {
		return "", err
	}
	ok, err := ds.Verify(bytes.NewReader(msg), y, sig)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("fresh signature does not verify")
	}
	return "sign and verify ok", nil
}

func (t *Toolkit) checkKeysDir(context.Context) (string, error) {
	dir := t.cfg.KeysDir
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", &observability.DegradedError{Reason: fmt.Sprintf("%s does not exist yet", dir)}
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	if info.Mode().Perm()&0077 != 0 {
		return "", &observability.DegradedError{Reason: fmt.Sprintf("%s is accessible by other users (%v)", dir, info.Mode().Perm())}
	}
	return dir, nil
}
