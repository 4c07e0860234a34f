// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimberlitedb/kimberlite/internal/kimcrypto"
)

func TestRecordSerializeParseRoundTrip(t *testing.T) {
	rec := &Record{
		Offset:      7,
		PrevHash:    kimcrypto.ChainHash(kimcrypto.ZeroHash, []byte("genesis")),
		Kind:        KindData,
		Compression: CompressionNone,
		Encryption:  EncryptionChaCha20Poly1305,
		Payload:     []byte("sealed-bytes-stand-in"),
	}
	buf, err := rec.Serialize()
	require.NoError(t, err)

	got, err := ParseRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, rec.Offset, got.Offset)
	assert.Equal(t, rec.PrevHash, got.PrevHash)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Compression, got.Compression)
	assert.Equal(t, rec.Encryption, got.Encryption)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, rec.ChainHash(), got.ChainHash())
}

func TestRecordSerializeRejectsOutOfRangeEncryption(t *testing.T) {
	rec := &Record{Kind: KindData, Encryption: Encryption(0xFF)}
	_, err := rec.Serialize()
	require.Error(t, err)
}

func TestReadRecordDetectsCRCMismatch(t *testing.T) {
	rec := &Record{Kind: KindData, Encryption: EncryptionChaCha20Poly1305, Payload: []byte("payload")}
	buf, err := rec.Serialize()
	require.NoError(t, err)

	buf[len(buf)-1] ^= 0xFF // corrupt the trailing CRC byte
	_, _, err = ReadRecord(buf)
	require.Error(t, err)
}

func TestReadRecordConsumesExactByteCount(t *testing.T) {
	rec := &Record{Kind: KindData, Payload: []byte("abc")}
	buf, err := rec.Serialize()
	require.NoError(t, err)

	trailing := append(buf, 0x00, 0x01)
	_, n, err := ReadRecord(trailing)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	_, err = ParseRecord(trailing)
	assert.Error(t, err, "ParseRecord must reject trailing bytes that ReadRecord tolerates")
}
