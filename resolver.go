package notesync

// Resolution is the outcome of the three-way comparison.
type Resolution int

const (
	// ResolutionInSync means both replicas carry the same content; no work.
	ResolutionInSync Resolution = iota

	// ResolutionPushLocal means only the local replica changed since the
	// base; the local version wins and should be pushed.
	ResolutionPushLocal

	// ResolutionApplyRemote means only the remote replica changed since the
	// base; the remote version wins and should be applied locally.
	ResolutionApplyRemote

	// ResolutionConflict means both replicas changed divergently. Never
	// auto-resolved; a human picks a winner.
	ResolutionConflict
)

func (r Resolution) String() string {
	switch r {
	case ResolutionInSync:
		return "in_sync"
	case ResolutionPushLocal:
		return "push_local"
	case ResolutionApplyRemote:
		return "apply_remote"
	case ResolutionConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Resolve performs the three-way comparison between the last mutually agreed
// snapshot (base, nil when none exists) and the two current replicas. It is
// pure: no I/O, no clock, no stored state.
//
// Identical content is in sync no matter how it came about, including both
// sides making the same edit independently. With no base, any divergence
// counts as both-changed: there is no evidence either side is stale, so
// guessing a winner would discard someone's edit. The same reasoning makes
// equal timestamps with different content a conflict rather than a coin toss.
func Resolve(base *Document, local, remote Document) Resolution {
	if local.ContentEquals(remote) {
		return ResolutionInSync
	}

	if base == nil {
		return ResolutionConflict
	}

	localChanged := changedSince(local, *base)
	remoteChanged := changedSince(remote, *base)

	switch {
	case localChanged && remoteChanged:
		return ResolutionConflict
	case localChanged:
		return ResolutionPushLocal
	case remoteChanged:
		return ResolutionApplyRemote
	default:
		// Neither differs from the base, yet they differ from each other:
		// the base snapshot is corrupt. Surface it instead of guessing.
		return ResolutionConflict
	}
}

// changedSince reports whether d was modified relative to the base snapshot.
// Content comparison is authoritative; the timestamp alone also counts so a
// touch-only edit (same text re-saved later) still propagates.
func changedSince(d, base Document) bool {
	return !d.ContentEquals(base) || d.UpdatedAt.After(base.UpdatedAt)
}
