package queue

import "github.com/SirClappington/jobexec/internal/domain"

// Every key shares the {jobexec} hash tag so the Lua scripts stay on one
// cluster slot.
const keyPrefix = "{jobexec}:"

// jobKey holds one live job: body, due, and the owner/expires lease pair.
func jobKey(kind domain.Kind, id string) string {
	return keyPrefix + string(kind) + ":job:" + id
}

// readyKey is the sorted set of unleased jobs scored by due date.
func readyKey(kind domain.Kind) string { return keyPrefix + string(kind) + ":ready" }

// leasedKey is the sorted set of leased jobs scored by lease expiration.
func leasedKey(kind domain.Kind) string { return keyPrefix + string(kind) + ":leased" }

// idsKey tracks every live job id for enumeration.
func idsKey(kind domain.Kind) string { return keyPrefix + string(kind) + ":ids" }

const (
	deadLetterKey = keyPrefix + "deadletters"
	historicKey   = keyPrefix + "historic"
	// reservedKey holds every id ever created, across kinds and record sets.
	reservedKey = keyPrefix + "reserved"
)
