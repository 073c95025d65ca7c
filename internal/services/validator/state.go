package validator

import "PaperTrade/internal/domain/models"

// transitions lists the allowed session state changes. Terminal states have none.
var transitions = map[models.SessionState][]models.SessionState{
	models.SessionPending:    {models.SessionValidating, models.SessionRejected, models.SessionExpired},
	models.SessionValidating: {models.SessionConfirmed, models.SessionRejected, models.SessionExpired},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to models.SessionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
