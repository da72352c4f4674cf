package transport

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// codeChars avoids ambiguous characters (0/O, 1/I) so codes survive being
// read aloud across a room.
const codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the size of generated session codes.
const CodeLength = 6

// GenerateCode returns a new random session code.
func GenerateCode() string {
	var b strings.Builder
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(err)
		}
		b.WriteByte(codeChars[n.Int64()])
	}
	return b.String()
}

// NormalizeCode canonicalizes user-entered codes; matching is
// case-insensitive and whitespace-tolerant.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
