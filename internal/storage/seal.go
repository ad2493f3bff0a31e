package storage

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealVersion = 1
	sealPrefix  = "RAYFINE1\n"
	saltSize    = 16
)

var (
	errSealAuth    = errors.New("store secret does not open the sealed file")
	errSealInvalid = errors.New("sealed file is malformed")
)

// kdfParams are recorded in every envelope, so changing them only affects
// files written afterwards.
type kdfParams struct {
	Time     uint32 `json:"time"`
	MemoryKB uint32 `json:"memory_kb"`
	Threads  uint8  `json:"threads"`
}

var defaultKDF = kdfParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

type envelope struct {
	Version    uint32    `json:"version"`
	KDF        string    `json:"kdf"`
	Params     kdfParams `json:"params"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

func isSealed(data []byte) bool {
	return strings.HasPrefix(string(data), sealPrefix)
}

func seal(secret string, plaintext []byte, params kdfParams) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(secret, salt, params)
	defer wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(envelope{
		Version:    sealVersion,
		KDF:        "argon2id",
		Params:     params,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, []byte(sealPrefix)),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(sealPrefix), raw...), nil
}

func unseal(secret string, data []byte) ([]byte, error) {
	if !isSealed(data) {
		return nil, errSealInvalid
	}
	var env envelope
	if err := json.Unmarshal(data[len(sealPrefix):], &env); err != nil {
		return nil, errSealInvalid
	}
	if env.Version != sealVersion || env.KDF != "argon2id" || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, errSealInvalid
	}
	key := deriveKey(secret, env.Salt, env.Params)
	defer wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(sealPrefix))
	if err != nil {
		return nil, errSealAuth
	}
	return plaintext, nil
}

func deriveKey(secret string, salt []byte, p kdfParams) []byte {
	return argon2.IDKey([]byte(secret), salt, p.Time, p.MemoryKB, p.Threads, chacha20poly1305.KeySize)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
