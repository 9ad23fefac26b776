package common

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/crypto/bcrypt"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var (
	snowflakeNode *snowflake.Node
	snowflakeOnce sync.Once
)

// UUIDint64 returns a process-unique int64 identifier for new rows.
func UUIDint64() int64 {
	snowflakeOnce.Do(func() {
		var err error
		snowflakeNode, err = snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
	})
	return snowflakeNode.Generate().Int64()
}

// GetSecretSalt reads the deployment salt from the environment, falling back
// to a fixed development value.
func GetSecretSalt() string {
	if salt := os.Getenv("WACONNECT_SECRET_SALT"); salt != "" {
		return salt
	}
	return "waconnect-dev-salt"
}

func Sha256HashWithSalt(value, salt string) string {
	sum := sha256.Sum256([]byte(value + salt))
	return fmt.Sprintf("%x", sum)
}

// BcryptHash hashes an operator password for storage.
func BcryptHash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BcryptCheck reports whether the password matches the stored hash.
func BcryptCheck(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
