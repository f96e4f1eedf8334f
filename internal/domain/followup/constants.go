package followup

import "time"

type ActionStatus string

const (
	StatusNotStarted ActionStatus = "Por iniciar"
	StatusInProgress ActionStatus = "En curso"
	StatusFinished   ActionStatus = "Finalizado"
)

var Statuses = []ActionStatus{StatusNotStarted, StatusInProgress, StatusFinished}

func (s ActionStatus) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

const (
	// Threshold is the competency average below which an improvement action applies.
	Threshold    = 3.4
	MaxActions   = 3
	DeleteWindow = 6 * 24 * time.Hour

	EvaluatorListPath = "/colaboradores"
	HomePath          = "/inicio"
	RedirectDelay     = 2 * time.Second
)
