package board

import (
	"crypto/rand"
	"fmt"
)

// idAlphabet is the url-safe alphabet slide and element ids are drawn from.
const idAlphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// idLength is the length of generated slide/element ids.
const idLength = 21

// generateID returns a new random url-safe id.
func generateID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}
