// Package password hashes and verifies account passwords.
//
// Hashes are argon2id strings in PHC format:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
//
// Stored values that are not PHC strings are treated as legacy plaintext
// passwords; they verify in constant time and always report NeedsUpgrade.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"
	phcPrefix   = "$" + algorithmID + "$"

	minMemoryKB   uint32 = 8 * 1024
	minSaltLength        = 16
	minKeyLength  uint32 = 16
)

var (
	ErrInvalidConfig = errors.New("invalid password hasher config")
	ErrInvalidHash   = errors.New("invalid password hash")
)

// Config holds the argon2id cost parameters used for new hashes.
type Config struct {
	MemoryKB    uint32 `env:"MEMORY_KB" default:"65536"`
	Time        uint32 `env:"TIME" default:"3"`
	Parallelism uint8  `env:"PARALLELISM" default:"2"`
	SaltLength  uint32 `env:"SALT_LENGTH" default:"16"`
	KeyLength   uint32 `env:"KEY_LENGTH" default:"32"`
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		MemoryKB:    64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher creates and checks password hashes.
type Hasher struct {
	cfg Config
}

// NewHasher validates cfg and returns a Hasher using it.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.MemoryKB < minMemoryKB:
		return nil, fmt.Errorf("%w: memory must be at least %d KiB", ErrInvalidConfig, minMemoryKB)
	case cfg.Time < 1:
		return nil, fmt.Errorf("%w: time must be at least 1", ErrInvalidConfig)
	case cfg.Parallelism < 1:
		return nil, fmt.Errorf("%w: parallelism must be at least 1", ErrInvalidConfig)
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidConfig, minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("%w: key must be at least %d bytes", ErrInvalidConfig, minKeyLength)
	}

	return &Hasher{cfg: cfg}, nil
}

// Hash returns a PHC-encoded argon2id hash of password.
// The password bytes are used exactly as given.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.cfg.Time, h.cfg.MemoryKB, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.cfg.MemoryKB,
		h.cfg.Time,
		h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches stored.
// A malformed PHC string is an error; a non-PHC value is compared as plaintext.
func (h *Hasher) Verify(password, stored string) (bool, error) {
	if !IsHash(stored) {
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1, nil
	}

	phc, err := parse(stored)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), phc.salt, phc.time, phc.memory, phc.parallelism, uint32(len(phc.key)))

	return subtle.ConstantTimeCompare(key, phc.key) == 1, nil
}

// NeedsUpgrade reports whether stored should be replaced by a fresh Hash,
// either because it is plaintext or because it is weaker than the current parameters.
func (h *Hasher) NeedsUpgrade(stored string) bool {
	if !IsHash(stored) {
		return true
	}

	phc, err := parse(stored)
	if err != nil {
		return true
	}

	return h.cfg.MemoryKB > phc.memory ||
		h.cfg.Time > phc.time ||
		h.cfg.Parallelism > phc.parallelism ||
		int(h.cfg.KeyLength) != len(phc.key)
}

// IsHash reports whether stored looks like an argon2id PHC string.
func IsHash(stored string) bool {
	return strings.HasPrefix(stored, phcPrefix)
}

type phcHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

//nolint:cyclop
func parse(stored string) (*phcHash, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: bad format", ErrInvalidHash)
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}

	var phc phcHash

	for _, param := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(param, "=")
		if !ok {
			return nil, fmt.Errorf("%w: bad parameter %q", ErrInvalidHash, param)
		}

		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: bad parameter %q", ErrInvalidHash, param)
		}

		switch name {
		case "m":
			phc.memory = uint32(n)
		case "t":
			phc.time = uint32(n)
		case "p":
			if n > 255 {
				return nil, fmt.Errorf("%w: bad parameter %q", ErrInvalidHash, param)
			}

			phc.parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidHash, name)
		}
	}

	if phc.memory == 0 || phc.time == 0 || phc.parallelism == 0 {
		return nil, fmt.Errorf("%w: missing parameter", ErrInvalidHash)
	}

	if phc.salt, err = decode(parts[4]); err != nil || len(phc.salt) < minSaltLength {
		return nil, fmt.Errorf("%w: bad salt", ErrInvalidHash)
	}

	if phc.key, err = decode(parts[5]); err != nil || len(phc.key) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrInvalidHash)
	}

	return &phc, nil
}

// decode accepts both padded and unpadded base64.
func decode(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
