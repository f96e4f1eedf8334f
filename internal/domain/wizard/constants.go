package wizard

const (
	CommandStart    = "start"
	CommandAnswer   = "answer"
	CommandNext     = "next"
	CommandPrevious = "previous"
	CommandCancel   = "cancel"
	CommandSubmit   = "submit"
)

type Mode string

const (
	ModeEvaluation     Mode = "evaluacion"
	ModeSelfAssessment Mode = "autoevaluacion"
)

type PhaseKind string

const (
	PhaseIntro            PhaseKind = "intro"
	PhaseAnswering        PhaseKind = "answering"
	PhaseConfirmingSubmit PhaseKind = "confirming_submit"
	PhaseCompleted        PhaseKind = "completed"
)
