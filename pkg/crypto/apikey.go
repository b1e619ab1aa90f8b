package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// PrefixLength is the number of hex characters used to index a key.
	PrefixLength = 16
	// RawKeyBytes is the amount of random material behind a key.
	RawKeyBytes = 32

	argon2Variant = "argon2id"
)

var (
	ErrMalformedHash = errors.New("malformed hash")

	argon2IDKey = argon2.IDKey
)

// Argon2Params are the cost parameters of argon2id.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
	SaltLen   uint32
}

// DefaultArgon2Params follows the OWASP minimum for argon2id.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:      2,
		MemoryKiB: 19456,
		Threads:   1,
		KeyLen:    32,
		SaltLen:   16,
	}
}

// Hasher generates API keys and hashes them for storage.
type Hasher struct {
	params Argon2Params
}

// NewHasher creates a hasher. Zero fields fall back to the defaults.
func NewHasher(params Argon2Params) *Hasher {
	def := DefaultArgon2Params()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.MemoryKiB == 0 {
		params.MemoryKiB = def.MemoryKiB
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	if params.KeyLen == 0 {
		params.KeyLen = def.KeyLen
	}
	if params.SaltLen == 0 {
		params.SaltLen = def.SaltLen
	}
	return &Hasher{params: params}
}

// Params returns the parameters new hashes are produced with.
func (h *Hasher) Params() Argon2Params {
	return h.params
}

// Generate creates a new raw key for service together with its lookup
// prefix and storage hash. The raw key is never persisted.
func (h *Hasher) Generate(service string) (raw, prefix, hash string, err error) {
	raw, err = GenerateRawKey(service)
	if err != nil {
		return "", "", "", err
	}
	hash, err = h.Hash(raw)
	if err != nil {
		return "", "", "", err
	}
	return raw, LookupPrefix(raw), hash, nil
}

// Hash encodes raw as an argon2id PHC string with a fresh salt.
func (h *Hasher) Hash(raw string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := randomRead(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2IDKey([]byte(raw), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Variant,
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether raw matches encoded. Bcrypt digests are accepted;
// anything unparseable is a mismatch.
func (h *Hasher) Verify(raw, encoded string) bool {
	if IsBcryptHash(encoded) {
		return CheckPassword(raw, encoded)
	}
	phc, err := parseArgon2(encoded)
	if err != nil {
		return false
	}
	key := argon2IDKey([]byte(raw), phc.salt, phc.params.Time, phc.params.MemoryKiB, phc.params.Threads, uint32(len(phc.key)))
	return subtle.ConstantTimeCompare(key, phc.key) == 1
}

// NeedsRehash reports whether encoded should be replaced by a hash made
// with the current parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if IsBcryptHash(encoded) {
		return true
	}
	phc, err := parseArgon2(encoded)
	if err != nil {
		return true
	}
	return phc.params.Time < h.params.Time ||
		phc.params.MemoryKiB < h.params.MemoryKiB ||
		phc.params.Threads < h.params.Threads ||
		uint32(len(phc.key)) < h.params.KeyLen
}

// GenerateRawKey returns service + "_" + 32 random bytes in unpadded base64url.
func GenerateRawKey(service string) (string, error) {
	b := make([]byte, RawKeyBytes)
	if _, err := randomRead(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return service + "_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// LookupPrefix derives the index prefix of raw: the first 16 hex characters
// of its SHA-256 digest.
func LookupPrefix(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:PrefixLength]
}

type argon2Hash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func parseArgon2(encoded string) (*argon2Hash, error) {
	// "", variant, version, params, salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2Variant {
		return nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, ErrMalformedHash
	}

	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return nil, ErrMalformedHash
	}
	if p.MemoryKiB == 0 || p.Time == 0 || p.Threads == 0 {
		return nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, ErrMalformedHash
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))

	return &argon2Hash{params: p, salt: salt, key: key}, nil
}
