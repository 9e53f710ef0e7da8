// Package paillier implements the additively homomorphic Paillier cryptosystem
// with the simplified generator g = N+1.
//
// Ciphertexts are plain *big.Int values in [0, N²). Multiplying two
// ciphertexts modulo N² adds their plaintexts modulo N; raising a ciphertext
// to k multiplies its plaintext by k. Nothing else is supported.
package paillier

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/zeebo/blake3"
)

const (
	// MinKeyBits is the smallest modulus accepted by GenerateKey. It exists so
	// tests can run with small keys; production keys are 2048 bits.
	MinKeyBits = 256

	maxKeyAttempts = 16
)

var (
	ErrKeyGeneration        = errors.New("paillier: key generation failed")
	ErrPlaintextOutOfRange  = errors.New("paillier: plaintext out of range")
	ErrCiphertextOutOfRange = errors.New("paillier: ciphertext out of range")
	ErrDecryption           = errors.New("paillier: decryption failed")
)

var one = big.NewInt(1)

type PublicKey struct {
	N        *big.Int
	G        *big.Int
	NSquared *big.Int
}

// PrivateKey holds the decryption trapdoor. It has no encoding methods and
// lives only in process memory.
type PrivateKey struct {
	PublicKey
	p, q   *big.Int
	lambda *big.Int
	mu     *big.Int
}

// NewPublicKey rebuilds a public key from its modulus and generator, for
// parties that received them over the wire.
func NewPublicKey(n, g *big.Int) (*PublicKey, error) {
	if n == nil || g == nil || n.Sign() <= 0 || n.Bit(0) == 0 {
		return nil, fmt.Errorf("paillier: invalid modulus")
	}
	nn := new(big.Int).Mul(n, n)
	if g.Sign() <= 0 || g.Cmp(nn) >= 0 {
		return nil, fmt.Errorf("paillier: generator outside [1, N²)")
	}
	return &PublicKey{
		N:        new(big.Int).Set(n),
		G:        new(big.Int).Set(g),
		NSquared: nn,
	}, nil
}

// GenerateKey creates a fresh key pair whose modulus is exactly bits long.
func GenerateKey(random io.Reader, bits int) (*PrivateKey, error) {
	if random == nil {
		random = rand.Reader
	}
	if bits < MinKeyBits || bits%2 != 0 {
		return nil, fmt.Errorf("%w: unsupported modulus size %d", ErrKeyGeneration, bits)
	}

	var lastErr error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		sk, err := tryGenerate(random, bits)
		if err == nil {
			return sk, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrKeyGeneration, maxKeyAttempts, lastErr)
}

func tryGenerate(random io.Reader, bits int) (*PrivateKey, error) {
	p, err := rand.Prime(random, bits/2)
	if err != nil {
		return nil, err
	}
	q, err := rand.Prime(random, bits/2)
	if err != nil {
		return nil, err
	}
	if p.Cmp(q) == 0 {
		return nil, errors.New("p equals q")
	}

	n := new(big.Int).Mul(p, q)
	if n.BitLen() != bits {
		return nil, fmt.Errorf("modulus is %d bits", n.BitLen())
	}

	pm1 := new(big.Int).Sub(p, one)
	qm1 := new(big.Int).Sub(q, one)
	phi := new(big.Int).Mul(pm1, qm1)
	if new(big.Int).GCD(nil, nil, n, phi).Cmp(one) != 0 {
		return nil, errors.New("gcd(N, phi) != 1")
	}

	// With g = N+1, L(g^phi mod N²) = phi mod N, so mu is phi's inverse.
	mu := new(big.Int).ModInverse(phi, n)
	if mu == nil {
		return nil, errors.New("phi not invertible mod N")
	}

	return &PrivateKey{
		PublicKey: PublicKey{
			N:        n,
			G:        new(big.Int).Add(n, one),
			NSquared: new(big.Int).Mul(n, n),
		},
		p:      p,
		q:      q,
		lambda: phi,
		mu:     mu,
	}, nil
}

// Public returns a copy of the public half.
func (sk *PrivateKey) Public() *PublicKey {
	return &PublicKey{
		N:        new(big.Int).Set(sk.N),
		G:        new(big.Int).Set(sk.G),
		NSquared: new(big.Int).Set(sk.NSquared),
	}
}

func (pk *PublicKey) Bits() int {
	return pk.N.BitLen()
}

// ID fingerprints the key so ciphertexts can be tied to the key they were
// produced under.
func (pk *PublicKey) ID() string {
	h := blake3.New()
	h.Write(pk.N.Bytes())
	h.Write([]byte{0})
	h.Write(pk.G.Bytes())
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Validate checks that c lies in [0, N²).
func (pk *PublicKey) Validate(c *big.Int) error {
	if c == nil || c.Sign() < 0 || c.Cmp(pk.NSquared) >= 0 {
		return ErrCiphertextOutOfRange
	}
	return nil
}

// Encrypt computes g^m · r^N mod N² for a fresh random r coprime to N.
func (pk *PublicKey) Encrypt(random io.Reader, m *big.Int) (*big.Int, error) {
	if random == nil {
		random = rand.Reader
	}
	if m == nil || m.Sign() < 0 || m.Cmp(pk.N) >= 0 {
		return nil, ErrPlaintextOutOfRange
	}

	r, err := pk.randomUnit(random)
	if err != nil {
		return nil, fmt.Errorf("paillier: sampling randomness: %w", err)
	}
	return pk.encryptWith(m, r), nil
}

func (pk *PublicKey) encryptWith(m, r *big.Int) *big.Int {
	var gm *big.Int
	if pk.G.Cmp(new(big.Int).Add(pk.N, one)) == 0 {
		// (1+N)^m = 1 + mN mod N²
		gm = new(big.Int).Mul(m, pk.N)
		gm.Add(gm, one)
		gm.Mod(gm, pk.NSquared)
	} else {
		gm = new(big.Int).Exp(pk.G, m, pk.NSquared)
	}
	rn := new(big.Int).Exp(r, pk.N, pk.NSquared)
	c := gm.Mul(gm, rn)
	return c.Mod(c, pk.NSquared)
}

func (pk *PublicKey) randomUnit(random io.Reader) (*big.Int, error) {
	for {
		r, err := rand.Int(random, pk.N)
		if err != nil {
			return nil, err
		}
		if r.Sign() == 0 {
			continue
		}
		if new(big.Int).GCD(nil, nil, r, pk.N).Cmp(one) == 0 {
			return r, nil
		}
	}
}

// Add multiplies the ciphertexts modulo N². With no arguments it returns 1,
// which is a valid encryption of zero.
func (pk *PublicKey) Add(cs ...*big.Int) *big.Int {
	acc := big.NewInt(1)
	for _, c := range cs {
		acc.Mul(acc, c)
		acc.Mod(acc, pk.NSquared)
	}
	return acc
}

// MulConst returns c^k mod N², an encryption of k·m.
func (pk *PublicKey) MulConst(c, k *big.Int) *big.Int {
	return new(big.Int).Exp(c, k, pk.NSquared)
}

// Decrypt recovers m from c. Ciphertexts outside [0, N²) or not coprime to N
// are rejected with ErrDecryption.
func (sk *PrivateKey) Decrypt(c *big.Int) (*big.Int, error) {
	if err := sk.Validate(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if new(big.Int).GCD(nil, nil, c, sk.N).Cmp(one) != 0 {
		return nil, fmt.Errorf("%w: ciphertext shares a factor with N", ErrDecryption)
	}

	// Every unit mod N² decrypts to something; binding a ciphertext to this
	// key is done by key id before we get here.
	u := new(big.Int).Exp(c, sk.lambda, sk.NSquared)
	l := u.Sub(u, one)
	l.Div(l, sk.N)
	l.Mul(l, sk.mu)
	return l.Mod(l, sk.N), nil
}
