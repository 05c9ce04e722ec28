package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. x/crypto/argon2 exposes only the raw KDF, not a PHC
// string encoder, so encodeHash/parseHash below hand-roll the
// "$argon2id$v=19$m=...,t=...,p=...$salt$hash" format the way a vetted
// library (e.g. argon2-cffi) would produce it.
const (
	argonMemoryKiB = 65536
	argonTime      = 3
	argonThreads   = 4
	argonSaltLen   = 16
	argonKeyLen    = 32
)

// HashPassword derives an Argon2id hash from password with a fresh random
// salt and returns its PHC-encoded string.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemoryKiB, argonThreads, argonKeyLen)
	return encodeHash(salt, hash), nil
}

// VerifyPassword reports whether password matches the PHC-encoded hash.
// It does not implement the fixed-budget timing contract itself — see
// Manager.VerifyPassword, which wraps this with the 5s sleep floor so every
// call site gets that guarantee uniformly.
func VerifyPassword(encodedHash, password string) (bool, error) {
	params, salt, hash, err := parseHash(encodedHash)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(candidate, hash) == 1, nil
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

func encodeHash(salt, hash []byte) string {
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemoryKiB, argonTime, argonThreads, b64Salt, b64Hash)
}

func parseHash(encoded string) (argonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	// parts[0] is empty (leading $); parts[1]=="argon2id"; parts[2]=="v=19";
	// parts[3]=="m=...,t=...,p=..."; parts[4]==salt; parts[5]==hash.
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argonParams{}, nil, nil, fmt.Errorf("auth: unrecognized password hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("auth: parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return argonParams{}, nil, nil, fmt.Errorf("auth: unsupported argon2 version %d", version)
	}

	var p argonParams
	var memory, time32 uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time32, &threads); err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("auth: parsing hash params: %w", err)
	}
	p.memory, p.time, p.threads = memory, time32, threads

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("auth: decoding salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("auth: decoding hash: %w", err)
	}
	return p, salt, hash, nil
}
