package utils

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const contributorPrefix = "user_"

// GenerateContributorID returns an anonymous contributor identifier of the
// form user_<12 hex chars>.
func GenerateContributorID() string {
	return contributorPrefix + GenerateRandomID(12)
}

// ValidateContributorID reports whether id has the anonymous identifier shape.
func ValidateContributorID(id string) bool {
	raw, ok := strings.CutPrefix(id, contributorPrefix)
	if !ok || len(raw) != 12 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// MD5Hash generates MD5 hash of input string
func MD5Hash(input string) string {
	hash := md5.Sum([]byte(input))
	return hex.EncodeToString(hash[:])
}

// GenerateRandomID generates a random hex ID of the given length
func GenerateRandomID(length int) string {
	bytes := make([]byte, (length+1)/2)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		id := fmt.Sprintf("%0*x", length, time.Now().UnixNano())
		return id[len(id)-length:]
	}
	return hex.EncodeToString(bytes)[:length]
}
