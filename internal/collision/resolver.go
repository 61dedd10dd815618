package collision

import (
	"time"

	"github.com/franzego/coachengine/internal/models"
)

// Resolve decides what to do with a candidate when its topic may already
// have an active message. Pure: the verdict depends only on the arguments.
//
// Rules, in order: no current message wins an add; an expired current
// message is always replaced; otherwise the higher priority weight wins;
// on equal weight a same-day current message is replaced (no same-severity
// duplicates within a day) while an older one stacks alongside.
func Resolve(current *models.RoutedMessage, candidate models.CandidateMessage, now time.Time) models.CollisionAction {
	if current == nil {
		return models.CollisionAdd
	}
	if current.Expired(now) {
		return models.CollisionReplace
	}

	cw := candidate.Priority.Weight()
	ew := current.Priority.Weight()
	if cw > ew {
		return models.CollisionReplace
	}
	if cw < ew {
		return models.CollisionKeepCurrent
	}

	if sameLocalDay(current.CreatedAt, now) {
		return models.CollisionReplace
	}
	return models.CollisionAdd
}

func sameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Year(), a.Month(), a.Day()
	by, bm, bd := b.Year(), b.Month(), b.Day()
	return ay == by && am == bm && ad == bd
}
