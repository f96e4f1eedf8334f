package admin

import (
	"errors"

	"evalportal/internal/domain/charts"
	"evalportal/internal/upstream"
)

var (
	ErrUnknownCompany    = errors.New("company does not exist")
	ErrUnknownCompetency = errors.New("competency does not exist")
	ErrDateOrder         = errors.New("end date is before start date")
	ErrNotFound          = errors.New("record not found")
)

type UserInput struct {
	Document  string                 `json:"documento" validate:"required,max=20"`
	Name      string                 `json:"nombre" validate:"required,max=150"`
	Email     string                 `json:"email" validate:"required,email"`
	ProfileID int                    `json:"idPerfil" validate:"required,oneof=1 2 3"`
	JobLevel  string                 `json:"nivelCargo" validate:"max=50"`
	Position  string                 `json:"cargo" validate:"max=150"`
	Active    bool                   `json:"activo"`
	Companies []upstream.UserCompany `json:"empresas" validate:"dive"`
}

type CompanyInput struct {
	ID     int64  `json:"id"`
	Name   string `json:"nombre" validate:"required,max=150"`
	NIT    string `json:"nit" validate:"max=20"`
	Active bool   `json:"activo"`
}

type SiteInput struct {
	ID        int64  `json:"id"`
	Name      string `json:"nombre" validate:"required,max=150"`
	CompanyID int64  `json:"idEmpresa" validate:"required,gt=0"`
	City      string `json:"ciudad" validate:"max=100"`
	Active    bool   `json:"activo"`
}

type EvaluationInput struct {
	ID           int64         `json:"id"`
	Name         string        `json:"nombre" validate:"required,max=150"`
	Year         int           `json:"anio" validate:"required,gte=2000,lte=2100"`
	StartDate    upstream.Date `json:"fechaInicio"`
	EndDate      upstream.Date `json:"fechaFin"`
	Active       bool          `json:"activa"`
	Objective    string        `json:"objetivo" validate:"max=2000"`
	Instructions string        `json:"instrucciones" validate:"max=4000"`
}

type CompetencyInput struct {
	ID          int64  `json:"id"`
	Name        string `json:"nombre" validate:"required,max=150"`
	Type        string `json:"tipo" validate:"required,max=50"`
	Description string `json:"descripcion" validate:"max=2000"`
}

type DescriptorInput struct {
	ID           int64  `json:"id"`
	CompetencyID int64  `json:"idCompetencia" validate:"required,gt=0"`
	Description  string `json:"descripcion" validate:"required,max=1000"`
}

type AssignmentInput struct {
	ColaboradorID  string `json:"idColaborador" validate:"required"`
	EvaluatorID    string `json:"idEvaluador" validate:"required"`
	Evaluation     bool   `json:"evaluacion"`
	SelfAssessment bool   `json:"autoevaluacion"`
}

// CompanyView is a company with the sites that belong to it.
type CompanyView struct {
	upstream.Company
	Sites []upstream.Site `json:"sedes"`
}

// SiteView is a site with its company name resolved.
type SiteView struct {
	upstream.Site
	Company string `json:"empresa"`
}

type CompetencyOverview struct {
	Competencies []upstream.Competency `json:"competencias"`
	Types        []string              `json:"tipos"`
	ByType       charts.Series         `json:"porTipo"`
}

type BulkInput struct {
	EvaluationID int64             `json:"idEvaluacion" validate:"required,gt=0"`
	Assignments  []AssignmentInput `json:"asignaciones" validate:"required,min=1,dive"`
}

type UserQuery struct {
	Term      string
	ProfileID int
	CompanyID int64
}
