package cache

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/ecoscore/internal/ranking"
)

// snapshotVersion is stored with every encoded snapshot. Entries written
// with another version are treated as misses.
const snapshotVersion = 1

// ErrInvalidSnapshot is returned when cached bytes cannot be decoded.
var ErrInvalidSnapshot = errors.New("invalid cached snapshot")

type envelope struct {
	Version  int              `cbor:"v"`
	Snapshot ranking.Snapshot `cbor:"s"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: invalid CBOR encoding options: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cache: invalid CBOR decoding options: %v", err))
	}
}

// EncodeSnapshot encodes a snapshot to CBOR.
func EncodeSnapshot(snap ranking.Snapshot) ([]byte, error) {
	data, err := encMode.Marshal(envelope{Version: snapshotVersion, Snapshot: snap})
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot decodes a snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (ranking.Snapshot, error) {
	if len(data) == 0 {
		return ranking.Snapshot{}, ErrInvalidSnapshot
	}
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return ranking.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if env.Version != snapshotVersion {
		return ranking.Snapshot{}, fmt.Errorf("%w: version %d", ErrInvalidSnapshot, env.Version)
	}
	return env.Snapshot, nil
}
