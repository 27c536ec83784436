package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// minKeyLength 管理密钥的最小长度
const minKeyLength = 12

// hash-key 生成管理密钥的 bcrypt 哈希。
//
// 不带参数时生成一个随机密钥。
func main() {
	os.Exit(run(os.Args, os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) > 2 {
		fmt.Fprintln(out, "Usage: hash-key [key]")
		return 1
	}

	key := uuid.NewString()
	generated := true
	if len(args) == 2 {
		key = args[1]
		generated = false
	}

	if len(key) < minKeyLength {
		fmt.Fprintf(out, "Key must be at least %d characters\n", minKeyLength)
		return 1
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(out, "Failed to hash key: %v\n", err)
		return 1
	}

	if generated {
		fmt.Fprintf(out, "Admin key:  %s\n", key)
	}
	fmt.Fprintf(out, "MAILQ_AUTH_ADMIN_KEY_HASH='%s'\n", hash)
	fmt.Fprintln(out, "\nSend the key in the X-API-Key header when calling /api/v1/admin/*.")
	return 0
}
