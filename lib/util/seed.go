package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// GenerateSeed returns a random seed for workloads that did not fix one
func GenerateSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	// keep it positive so it prints the same way it is parsed back
	return int64(binary.LittleEndian.Uint64(b[:]) >> 1)
}
