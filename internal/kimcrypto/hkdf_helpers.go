// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package kimcrypto

import (
	"crypto/sha256"
	"hash"
	"io"
)

func sha256New() hash.Hash { return sha256.New() }

func readFull(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}
