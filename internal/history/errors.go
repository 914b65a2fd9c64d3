package history

import "errors"

// Common errors returned by tree and merge operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, history.ErrStaleClient) {
//	    // Prompt the user to reload the document
//	}
var (
	// ErrCorruptTree is returned when a persisted tree violates the
	// single-root/valid-parent invariant. The load fails; a corrupt tree
	// is never silently repaired.
	ErrCorruptTree = errors.New("corrupt revision tree")

	// ErrStaleClient is returned when a client's recorded file hash no
	// longer matches the document's actual on-disk hash, meaning the file
	// was changed outside this client's view.
	ErrStaleClient = errors.New("client view is stale, reload required")

	// ErrDivergenceNotFound is returned when a client's claimed divergence
	// point does not exist in the master tree. The client's view of the
	// tree's shape is untrustworthy, so this is handled like staleness.
	ErrDivergenceNotFound = errors.New("divergence point not found in master")

	// ErrDanglingParent is returned when creating a revision that
	// references a nonexistent parent. This is an integration error, not
	// a recoverable condition.
	ErrDanglingParent = errors.New("parent revision does not exist")

	// ErrNoSuchTransition is returned when undo/redo navigation runs off
	// the edge of the tree (undo at the root, redo with no such child).
	ErrNoSuchTransition = errors.New("no such undo/redo transition")

	// ErrUnknownFormat is returned when a persisted undo file carries an
	// unrecognized magic string or format version.
	ErrUnknownFormat = errors.New("unknown undo file format")
)

// IsRecoverable returns true if the error clears after the client reloads
// the document and master tree. Staleness and a missing divergence point
// both mean the client's view fell behind, nothing more.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrStaleClient) {
		return true
	}

	if errors.Is(err, ErrDivergenceNotFound) {
		return true
	}

	return false
}
