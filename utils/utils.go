package utils

import (
	"os"

	"github.com/google/uuid"
)

func MkDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}
	return nil
}

// GenerateSessionID returns a fresh identifier for one acquisition session.
func GenerateSessionID() string {
	return uuid.NewString()
}
