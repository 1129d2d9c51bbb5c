package social

import "time"

// Config holds the process-wide knobs of the relationship core. It is
// injected into the lifecycle, evaluator and guard rather than read globally.
type Config struct {
	// FriendLimit caps the non-rejected outgoing edges of a non-admin account.
	// Zero or negative disables the quota.
	FriendLimit int

	// MutualFriendsOnly makes friends-only visibility require approved edges
	// in both directions instead of only owner→viewer.
	MutualFriendsOnly bool

	// AtomicApproval applies the approval writes inside one store transaction.
	AtomicApproval bool

	MirrorRetries      int
	MirrorRetryBackoff time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FriendLimit:        100,
		AtomicApproval:     true,
		MirrorRetries:      3,
		MirrorRetryBackoff: 50 * time.Millisecond,
	}
}
