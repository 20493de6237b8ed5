package combat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"duskfall/server/internal/proto"
)

// StateChecksum hashes a combat snapshot into the canonical drift-detection
// digest. Server and client must compute it over the same snapshot fields in
// actor-order, so the encoding is fixed and versioned by the protocol.
func StateChecksum(s proto.CombatSnapshotPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%s", s.Phase, s.Round, s.ActiveID)
	for _, actor := range s.Actors {
		fmt.Fprintf(&b, "|%s:%d:%d:%d", actor.ActorID, actor.Health, actor.Tile.X, actor.Tile.Y)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
