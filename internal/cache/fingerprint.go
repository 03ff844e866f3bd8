// Package cache memoizes expensive summarization results under a
// fingerprint of the operation and its arguments. Entries are immutable
// and survive restarts when backed by the file log or Postgres.
package cache

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Fingerprint identifies one memoized call.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// fingerprintKey is the ASCII domain name zero-padded to 32 bytes.
// Changing it invalidates every stored entry.
var fingerprintKey = [32]byte{
	'd', 'o', 'c', 's', 'u', 'm', '.', 'c', 'a', 'c', 'h', 'e', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't',
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// Key fingerprints op and args. Arguments are encoded with CBOR Core
// Deterministic Encoding, so equal values always give equal keys
// regardless of map ordering.
func Key(op string, args ...any) (Fingerprint, error) {
	data, err := encMode.Marshal(append([]any{op}, args...))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("encode %s arguments: %w", op, err)
	}
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("cache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var fp Fingerprint
	copy(fp[:], hasher.Sum(nil))
	return fp, nil
}

func marshal(v any) ([]byte, error)      { return encMode.Marshal(v) }
func unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }
