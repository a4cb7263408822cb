package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when a stored credential cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// PasswordParams are the Argon2id cost settings written into every hash.
type PasswordParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultPasswordParams follow the OWASP baseline for Argon2id.
var DefaultPasswordParams = PasswordParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Upper bounds for parameters read back from storage, so a corrupted user
// record cannot make a login allocate gigabytes.
const (
	maxMemory     = 1024 * 1024
	maxIterations = 16
	maxKeyLength  = 128
)

type passwordHash struct {
	params PasswordParams
	salt   []byte
	key    []byte
}

// String renders the PHC form: $argon2id$v=19$m=65536,t=3,p=2$salt$key
func (h passwordHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key))
}

func parsePasswordHash(encoded string) (passwordHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return passwordHash{}, fmt.Errorf("%w: unexpected layout", ErrMalformedHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return passwordHash{}, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if version != argon2.Version {
		return passwordHash{}, fmt.Errorf("%w: argon2 version %d", ErrMalformedHash, version)
	}

	var h passwordHash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.params.Memory, &h.params.Iterations, &h.params.Parallelism); err != nil {
		return passwordHash{}, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if h.params.Memory == 0 || h.params.Memory > maxMemory ||
		h.params.Iterations == 0 || h.params.Iterations > maxIterations ||
		h.params.Parallelism == 0 {
		return passwordHash{}, fmt.Errorf("%w: parameters out of range", ErrMalformedHash)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return passwordHash{}, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return passwordHash{}, fmt.Errorf("%w: key: %v", ErrMalformedHash, err)
	}
	if len(h.key) == 0 || len(h.key) > maxKeyLength {
		return passwordHash{}, fmt.Errorf("%w: key length %d", ErrMalformedHash, len(h.key))
	}
	h.params.SaltLength = uint32(len(h.salt))
	h.params.KeyLength = uint32(len(h.key))
	return h, nil
}

// Hash derives a salted Argon2id key from password with p.
func (p PasswordParams) Hash(password string) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return passwordHash{params: p, salt: salt, key: key}.String(), nil
}

// HashPassword hashes with DefaultPasswordParams.
func HashPassword(password string) (string, error) {
	return DefaultPasswordParams.Hash(password)
}

// ComparePassword re-derives the key with the parameters stored in encodedHash.
// A wrong password is (false, nil); only an unreadable hash is an error.
func ComparePassword(password, encodedHash string) (bool, error) {
	h, err := parsePasswordHash(encodedHash)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), h.salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return subtle.ConstantTimeCompare(h.key, key) == 1, nil
}
