package apierr

import (
	"context"
	"errors"
	"time"
)

// Action tells a scheduler what to do after a failed poll.
type Action int

const (
	// ActionNone means the operation succeeded.
	ActionNone Action = iota
	// ActionReauth means cached tokens are invalid; a full login (maybe with CAPTCHA) is required.
	ActionReauth
	// ActionDelay means the portal is in a maintenance window; try again later.
	ActionDelay
	// ActionBackoff means a transport failure; retry with backoff.
	ActionBackoff
	// ActionFatal means a caller bug; retrying will not help.
	ActionFatal
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionReauth:
		return "reauth"
	case ActionDelay:
		return "delay"
	case ActionBackoff:
		return "backoff"
	case ActionFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ActionFor classifies err. Unclassified errors are treated as transient.
func ActionFor(err error) Action {
	if err == nil {
		return ActionNone
	}
	if errors.Is(err, context.Canceled) {
		return ActionFatal
	}

	kind, ok := KindOf(err)
	if !ok {
		return ActionBackoff
	}

	switch kind {
	case KindAuthenticationFailed:
		return ActionReauth
	case KindPartialOffline:
		return ActionDelay
	case KindContractUpdateRequired, KindQueryNotFound:
		return ActionFatal
	default:
		return ActionBackoff
	}
}

// Backoff returns the delay before retry attempt n (starting at 1), doubling from
// base and capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
