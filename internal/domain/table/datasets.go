package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"evalportal/internal/upstream"
)

var (
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrMissingParam   = errors.New("missing dataset parameter")
)

// Source is the slice of the API client the datasets read from.
type Source interface {
	Users(ctx context.Context, cred upstream.Credential, filter url.Values) ([]upstream.User, error)
	Evaluations(ctx context.Context, cred upstream.Credential) ([]upstream.Evaluation, error)
	Companies(ctx context.Context, cred upstream.Credential) ([]upstream.Company, error)
	Sites(ctx context.Context, cred upstream.Credential) ([]upstream.Site, error)
	Results(ctx context.Context, cred upstream.Credential, evaluationID int64, colaboradorID, evaluatorID string) ([]upstream.Result, error)
}

type Loader func(ctx context.Context, cred upstream.Credential, params url.Values) ([]Row, error)

type Dataset struct {
	Name      string
	Title     string
	Columns   []Column
	PageSizes []int
	// Profiles allowed to read the dataset.
	Profiles []int
	Load     Loader
}

// Build loads the rows and returns a table configured for this dataset.
func (d Dataset) Build(ctx context.Context, cred upstream.Credential, params url.Values, opts ...Option) (*Table, error) {
	rows, err := d.Load(ctx, cred, params)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithPageSizes(d.PageSizes)}, opts...)
	return New(d.Columns, rows, opts...), nil
}

type Registry struct {
	datasets map[string]Dataset
}

func NewRegistry(datasets ...Dataset) *Registry {
	r := &Registry{datasets: map[string]Dataset{}}
	for _, d := range datasets {
		r.datasets[d.Name] = d
	}
	return r
}

func (r *Registry) Get(name string) (Dataset, error) {
	d, ok := r.datasets[name]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	return d, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry wires the reporting datasets to the API.
func DefaultRegistry(src Source) *Registry {
	return NewRegistry(
		Dataset{
			Name:  "usuarios",
			Title: "Usuarios",
			Columns: []Column{
				{Field: "documento", HeaderName: "Documento"},
				{Field: "nombre", HeaderName: "Nombre"},
				{Field: "email", HeaderName: "Correo"},
				{Field: "cargo", HeaderName: "Cargo"},
				{Field: "nivelCargo", HeaderName: "Nivel"},
				{Field: "activo", HeaderName: "Activo"},
			},
			PageSizes: PageSizesDefault,
			Profiles:  []int{3},
			Load: func(ctx context.Context, cred upstream.Credential, params url.Values) ([]Row, error) {
				users, err := src.Users(ctx, cred, params)
				if err != nil {
					return nil, err
				}
				return ToRows(users)
			},
		},
		Dataset{
			Name:  "evaluaciones",
			Title: "Evaluaciones",
			Columns: []Column{
				{Field: "id", HeaderName: "ID"},
				{Field: "nombre", HeaderName: "Nombre"},
				{Field: "anio", HeaderName: "Año"},
				{Field: "fechaInicio", HeaderName: "Inicio"},
				{Field: "fechaFin", HeaderName: "Fin"},
				{Field: "activa", HeaderName: "Activa"},
			},
			PageSizes: PageSizesCompact,
			Profiles:  []int{2, 3},
			Load: func(ctx context.Context, cred upstream.Credential, _ url.Values) ([]Row, error) {
				evaluations, err := src.Evaluations(ctx, cred)
				if err != nil {
					return nil, err
				}
				return ToRows(evaluations)
			},
		},
		Dataset{
			Name:  "empresas",
			Title: "Empresas",
			Columns: []Column{
				{Field: "id", HeaderName: "ID"},
				{Field: "nombre", HeaderName: "Nombre"},
				{Field: "nit", HeaderName: "NIT"},
				{Field: "activo", HeaderName: "Activo"},
			},
			PageSizes: PageSizesCompact,
			Profiles:  []int{3},
			Load: func(ctx context.Context, cred upstream.Credential, _ url.Values) ([]Row, error) {
				companies, err := src.Companies(ctx, cred)
				if err != nil {
					return nil, err
				}
				return ToRows(companies)
			},
		},
		Dataset{
			Name:  "sedes",
			Title: "Sedes",
			Columns: []Column{
				{Field: "id", HeaderName: "ID"},
				{Field: "nombre", HeaderName: "Nombre"},
				{Field: "empresa", HeaderName: "Empresa"},
				{Field: "ciudad", HeaderName: "Ciudad"},
				{Field: "activo", HeaderName: "Activo"},
			},
			PageSizes: PageSizesCompact,
			Profiles:  []int{3},
			Load: func(ctx context.Context, cred upstream.Credential, _ url.Values) ([]Row, error) {
				sites, err := src.Sites(ctx, cred)
				if err != nil {
					return nil, err
				}
				companies, err := src.Companies(ctx, cred)
				if err != nil {
					return nil, err
				}
				names := make(map[int64]string, len(companies))
				for _, c := range companies {
					names[c.ID] = c.Name
				}
				rows, err := ToRows(sites)
				if err != nil {
					return nil, err
				}
				for i, s := range sites {
					rows[i]["empresa"] = names[s.CompanyID]
				}
				return rows, nil
			},
		},
		Dataset{
			Name:  "resultados",
			Title: "Resultados",
			Columns: []Column{
				{Field: "idColaborador", HeaderName: "Colaborador"},
				{Field: "idEvaluador", HeaderName: "Evaluador"},
				{Field: "competencia", HeaderName: "Competencia"},
				{Field: "tipo", HeaderName: "Tipo"},
				{Field: "valor", HeaderName: "Valor"},
			},
			PageSizes: PageSizesDefault,
			Profiles:  []int{2, 3},
			Load: func(ctx context.Context, cred upstream.Credential, params url.Values) ([]Row, error) {
				raw := params.Get("evaluationId")
				if raw == "" {
					return nil, fmt.Errorf("%w: evaluationId", ErrMissingParam)
				}
				evaluationID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: evaluationId", ErrMissingParam)
				}
				results, err := src.Results(ctx, cred, evaluationID, params.Get("colaboradorId"), params.Get("evaluadorId"))
				if err != nil {
					return nil, err
				}
				return ToRows(results)
			},
		},
	)
}

// ToRows converts API records to rows keyed by their JSON field names.
func ToRows(records any) ([]Row, error) {
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}
