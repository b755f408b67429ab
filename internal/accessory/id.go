package accessory

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// BridgeID is the accessory ID reserved for the bridge itself.
const BridgeID uint64 = 1

// ID derives a stable accessory ID from a device key: the first eight bytes
// of BLAKE3(key), big-endian. Results that would collide with the reserved
// IDs 0 and 1 are moved up past them.
func ID(key string) uint64 {
	sum := blake3.Sum256([]byte(key))
	id := binary.BigEndian.Uint64(sum[:8])
	if id <= BridgeID {
		id += 2
	}
	return id
}
