package upstream

import (
	"encoding/json"
	"strings"
	"time"
)

// Date accepts the API's YYYY-MM-DD dates as well as RFC3339 timestamps.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(t time.Time) Date {
	return Date{Time: t}
}

func ParseDate(value string) (Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Date{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return Date{Time: parsed}, nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: parsed}, nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		if string(b) == "null" {
			*d = Date{}
			return nil
		}
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

type UserCompany struct {
	CompanyID int64  `json:"idEmpresa"`
	Company   string `json:"empresa,omitempty"`
	SiteID    int64  `json:"idSede"`
	Site      string `json:"sede,omitempty"`
	Principal bool   `json:"principal"`
	Reporting bool   `json:"reporta"`
}

type User struct {
	Document        string        `json:"documento"`
	Name            string        `json:"nombre"`
	Email           string        `json:"email"`
	ProfileID       int           `json:"idPerfil"`
	JobLevel        string        `json:"nivelCargo"`
	Position        string        `json:"cargo,omitempty"`
	Active          bool          `json:"activo"`
	DefaultPassword bool          `json:"passwordDefault"`
	Companies       []UserCompany `json:"empresas,omitempty"`
}

type Collaborator struct {
	Document string `json:"documento"`
	Name     string `json:"nombre"`
	Email    string `json:"email,omitempty"`
	Position string `json:"cargo,omitempty"`
	Company  string `json:"empresa,omitempty"`
	Site     string `json:"sede,omitempty"`
}

type LoginRequest struct {
	Document string `json:"documento"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"usuario"`
}

type Company struct {
	ID     int64  `json:"id"`
	Name   string `json:"nombre"`
	NIT    string `json:"nit,omitempty"`
	Active bool   `json:"activo"`
}

type Site struct {
	ID        int64  `json:"id"`
	Name      string `json:"nombre"`
	CompanyID int64  `json:"idEmpresa"`
	City      string `json:"ciudad,omitempty"`
	Active    bool   `json:"activo"`
}

type Rating struct {
	ID          int64   `json:"id"`
	Value       float64 `json:"valor"`
	Description string  `json:"descripcion"`
}

type Descriptor struct {
	ID           int64  `json:"id"`
	CompetencyID int64  `json:"idCompetencia"`
	Description  string `json:"descripcion"`
}

type Competency struct {
	ID          int64        `json:"id"`
	Name        string       `json:"nombre"`
	Type        string       `json:"tipo"`
	Description string       `json:"descripcion,omitempty"`
	Descriptors []Descriptor `json:"descriptores"`
}

type Evaluation struct {
	ID           int64  `json:"id"`
	Name         string `json:"nombre"`
	Year         int    `json:"anio"`
	StartDate    Date   `json:"fechaInicio"`
	EndDate      Date   `json:"fechaFin"`
	Active       bool   `json:"activa"`
	Objective    string `json:"objetivo,omitempty"`
	Instructions string `json:"instrucciones,omitempty"`
}

// Finished reports whether no new submissions are accepted on day now.
func (e Evaluation) Finished(now time.Time) bool {
	if !e.Active {
		return true
	}
	if e.EndDate.IsZero() {
		return false
	}
	return truncateDay(now).After(truncateDay(e.EndDate.Time))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Answer is one evaluator's rating for one descriptor.
type Answer struct {
	DescriptorID  int64  `json:"idDescriptor"`
	RatingID      int64  `json:"idCalificacion"`
	EvaluationID  int64  `json:"idEvaluacion"`
	ColaboradorID string `json:"idColaborador"`
	EvaluatorID   string `json:"idEvaluador"`
}

// Result is a stored answer joined with its competency and rating value.
type Result struct {
	DescriptorID  int64   `json:"idDescriptor"`
	CompetencyID  int64   `json:"idCompetencia"`
	Competency    string  `json:"competencia"`
	Type          string  `json:"tipo,omitempty"`
	Value         float64 `json:"valor"`
	EvaluatorID   string  `json:"idEvaluador"`
	ColaboradorID string  `json:"idColaborador"`
}

type Comment struct {
	ID            int64     `json:"id,omitempty"`
	EvaluationID  int64     `json:"idEvaluacion"`
	ColaboradorID string    `json:"idColaborador"`
	EvaluatorID   string    `json:"idEvaluador"`
	Text          string    `json:"comentario"`
	Confirmed     bool      `json:"retroalimentacion"`
	CreatedAt     time.Time `json:"fechaCreacion,omitempty"`
}

type Commitment struct {
	ID           int64     `json:"id,omitempty"`
	CommentID    int64     `json:"idComentario"`
	CompetencyID int64     `json:"idCompetencia"`
	Description  string    `json:"descripcion"`
	Status       string    `json:"estado"`
	DueDate      Date      `json:"fechaCumplimiento"`
	CreatedAt    time.Time `json:"fechaCreacion,omitempty"`
}

type FollowUp struct {
	Comment     Comment      `json:"comentario"`
	Commitments []Commitment `json:"compromisos"`
}

type Assignment struct {
	ColaboradorID  string `json:"idColaborador"`
	EvaluatorID    string `json:"idEvaluador"`
	EvaluationID   int64  `json:"idEvaluacion"`
	Evaluation     bool   `json:"evaluacion"`
	SelfAssessment bool   `json:"autoevaluacion"`
}

type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completadas"`
	Pending   int `json:"pendientes"`
}
