package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

const (
	passwordSaltBytes = 16
	passwordKeyBytes  = 32
)

// hasher 以 PHC 字符串格式保存 argon2id 摘要：
// $argon2id$v=19$m=<kb>,t=<time>,p=<threads>$<salt>$<digest>
type hasher struct {
	time     uint32
	memoryKB uint32
	threads  uint8
}

func defaultHasher() hasher {
	return hasher{time: 2, memoryKB: 19 * 1024, threads: 1}
}

func (h hasher) hash(password string) (string, error) {
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "生成盐值失败")
	}
	digest := argon2.IDKey([]byte(password), salt, h.time, h.memoryKB, h.threads, passwordKeyBytes)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memoryKB, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// verify 使用摘要中记录的参数重新计算，并以常量时间比较。
func (h hasher) verify(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memoryKB, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memoryKB, &time, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}
	digest := argon2.IDKey([]byte(password), salt, time, memoryKB, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(expected, digest) == 1
}
