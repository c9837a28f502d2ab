// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32

	// Upper bounds accepted when reading parameters back out of a stored
	// digest, so a corrupt row cannot make Verify allocate unbounded memory.
	maxArgon2Memory     = 1 << 20 // KiB
	maxArgon2Iterations = 64
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// HasherParams are the argon2id cost parameters.
type HasherParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultHasherParams follows the OWASP argon2id baseline.
var DefaultHasherParams = HasherParams{
	Memory:      64 * 1024,
	Iterations:  1,
	Parallelism: 4,
}

// Validate reports whether the parameters are usable.
func (p HasherParams) Validate() error {
	switch {
	case p.Memory < 8*uint32(p.Parallelism) || p.Memory > maxArgon2Memory:
		return oops.Code("AUTH_HASHER_CONFIG").
			With("memory_kib", p.Memory).
			Errorf("memory must be between %d and %d KiB", 8*uint32(p.Parallelism), maxArgon2Memory)
	case p.Iterations == 0 || p.Iterations > maxArgon2Iterations:
		return oops.Code("AUTH_HASHER_CONFIG").
			With("iterations", p.Iterations).
			Errorf("iterations must be between 1 and %d", maxArgon2Iterations)
	case p.Parallelism == 0:
		return oops.Code("AUTH_HASHER_CONFIG").Errorf("parallelism must be at least 1")
	}
	return nil
}

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a self-describing digest of the password.
	Hash(password string) (string, error)

	// Verify reports whether password matches digest. A malformed digest
	// is a mismatch, not an error.
	Verify(password, digest string) bool

	// NeedsUpgrade reports whether digest was produced by an older scheme
	// or weaker parameters than the hasher currently uses.
	NeedsUpgrade(digest string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id. It also verifies
// bcrypt digests carried over from the previous service.
type Argon2idHasher struct {
	params HasherParams
}

// NewArgon2idHasher creates a hasher with the given cost parameters.
func NewArgon2idHasher(params HasherParams) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params}, nil
}

// Hash produces an argon2id digest in PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against an argon2id or legacy bcrypt digest.
func (h *Argon2idHasher) Verify(password, digest string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	}

	d, err := parseArgon2id(digest)
	if err != nil || !h.withinVerifyBudget(d.params) {
		return false
	}

	computed := argon2.IDKey([]byte(password), d.salt, d.params.Iterations, d.params.Memory, d.params.Parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(computed, d.key) == 1
}

// verifyBudgetFactor bounds how much more a stored digest may cost to
// verify than a fresh hash with the larger of the configured and default
// parameters. A digest over budget is treated as malformed.
const verifyBudgetFactor = 4

func (h *Argon2idHasher) withinVerifyBudget(p HasherParams) bool {
	maxMemory := verifyBudgetFactor * max(h.params.Memory, DefaultHasherParams.Memory)
	maxIterations := verifyBudgetFactor * max(h.params.Iterations, DefaultHasherParams.Iterations)
	return p.Memory <= maxMemory && p.Iterations <= maxIterations
}

// NeedsUpgrade is true for bcrypt digests, unparseable digests and argon2id
// digests weaker than the configured parameters.
func (h *Argon2idHasher) NeedsUpgrade(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	d, err := parseArgon2id(digest)
	if err != nil {
		return true
	}
	return d.params.Memory < h.params.Memory ||
		d.params.Iterations < h.params.Iterations ||
		d.params.Parallelism < h.params.Parallelism
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

type argon2Digest struct {
	params HasherParams
	salt   []byte
	key    []byte
}

func parseArgon2id(encoded string) (*argon2Digest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	params := HasherParams{Memory: memory, Iterations: iterations, Parallelism: uint8(threads)}
	if err := params.Validate(); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1024 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	return &argon2Digest{params: params, salt: salt, key: key}, nil
}
