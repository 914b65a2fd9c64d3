package undofile

import "github.com/kirawi/undofile/internal/hashing"

// Freshness is the result of comparing a client's recorded document hash
// against the document's actual current hash.
type Freshness int

const (
	// Fresh means the document on disk is exactly what the client last
	// synced against.
	Fresh Freshness = iota

	// Stale means the document changed outside this client's view. This
	// catches edits made by other clients and by tools entirely outside
	// this system.
	Stale
)

func (f Freshness) String() string {
	if f == Fresh {
		return "fresh"
	}
	return "stale"
}

// CheckFreshness compares the client's last synced hash with the document's
// current content hash. Pure; no side effects.
func CheckFreshness(state *SyncState, currentFileHash hashing.Digest) Freshness {
	if hashing.Equal(state.LastSyncedFileHash, currentFileHash) {
		return Fresh
	}
	return Stale
}
