package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashText hashes candidate text after whitespace and case normalization,
// so the same passage retrieved from different sources keys identically
// in the popularity statistics and caches.
func HashText(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return HashString(normalized)
}
