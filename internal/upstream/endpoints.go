package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const (
	pathLogin         = "/auth/login"
	pathLogout        = "/auth/logout"
	pathVerify        = "/auth/verify"
	pathUsers         = "/usuarios"
	pathCollaborators = "/usuarios/colaboradores"
	pathCompanies     = "/empresas"
	pathSites         = "/sedes"
	pathRatings       = "/calificaciones"
	pathEvaluations   = "/evaluaciones"
	pathCompetencies  = "/competencias"
	pathDescriptors   = "/descriptores"
	pathResponses     = "/respuestas"
	pathResults       = "/respuestas/resultados"
	pathComments      = "/comentarios"
	pathCommitments   = "/compromisos"
	pathFollowUp      = "/comentarios/seguimiento"
	pathAssignments   = "/asignaciones"
	pathSummary       = "/reportes/resumen"
	pathPDFs          = "/reportes/pdf"
)

func idPath(base string, id int64) string {
	return base + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	var out LoginResult
	err := c.DoJSON(ctx, http.MethodPost, pathLogin, nil, Credential{}, req, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context, cred Credential) error {
	return c.DoJSON(ctx, http.MethodPost, pathLogout, nil, cred, nil, nil)
}

// Verify returns the user behind cred, or an error when the API rejects it.
func (c *Client) Verify(ctx context.Context, cred Credential) (User, error) {
	var out User
	err := c.DoJSON(ctx, http.MethodGet, pathVerify, nil, cred, nil, &out)
	return out, err
}

func (c *Client) Collaborators(ctx context.Context, cred Credential, evaluatorID string) ([]Collaborator, error) {
	var out []Collaborator
	q := url.Values{"idEvaluador": {evaluatorID}}
	err := c.DoJSON(ctx, http.MethodGet, pathCollaborators, q, cred, nil, &out)
	return out, err
}

func (c *Client) Users(ctx context.Context, cred Credential, filter url.Values) ([]User, error) {
	var out []User
	err := c.DoJSON(ctx, http.MethodGet, pathUsers, filter, cred, nil, &out)
	return out, err
}

func (c *Client) CreateUser(ctx context.Context, cred Credential, user User) error {
	return c.DoJSON(ctx, http.MethodPost, pathUsers, nil, cred, user, nil)
}

func (c *Client) UpdateUser(ctx context.Context, cred Credential, user User) error {
	return c.DoJSON(ctx, http.MethodPut, pathUsers+"/"+url.PathEscape(user.Document), nil, cred, user, nil)
}

func (c *Client) Companies(ctx context.Context, cred Credential) ([]Company, error) {
	var out []Company
	err := c.DoJSON(ctx, http.MethodGet, pathCompanies, nil, cred, nil, &out)
	return out, err
}

func (c *Client) SaveCompany(ctx context.Context, cred Credential, company Company) error {
	if company.ID > 0 {
		return c.DoJSON(ctx, http.MethodPut, idPath(pathCompanies, company.ID), nil, cred, company, nil)
	}
	return c.DoJSON(ctx, http.MethodPost, pathCompanies, nil, cred, company, nil)
}

func (c *Client) DeleteCompany(ctx context.Context, cred Credential, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, idPath(pathCompanies, id), nil, cred, nil, nil)
}

func (c *Client) Sites(ctx context.Context, cred Credential) ([]Site, error) {
	var out []Site
	err := c.DoJSON(ctx, http.MethodGet, pathSites, nil, cred, nil, &out)
	return out, err
}

func (c *Client) SaveSite(ctx context.Context, cred Credential, site Site) error {
	if site.ID > 0 {
		return c.DoJSON(ctx, http.MethodPut, idPath(pathSites, site.ID), nil, cred, site, nil)
	}
	return c.DoJSON(ctx, http.MethodPost, pathSites, nil, cred, site, nil)
}

func (c *Client) DeleteSite(ctx context.Context, cred Credential, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, idPath(pathSites, id), nil, cred, nil, nil)
}

func (c *Client) Ratings(ctx context.Context, cred Credential) ([]Rating, error) {
	var out []Rating
	err := c.DoJSON(ctx, http.MethodGet, pathRatings, nil, cred, nil, &out)
	return out, err
}

func (c *Client) Evaluations(ctx context.Context, cred Credential) ([]Evaluation, error) {
	var out []Evaluation
	err := c.DoJSON(ctx, http.MethodGet, pathEvaluations, nil, cred, nil, &out)
	return out, err
}

func (c *Client) Evaluation(ctx context.Context, cred Credential, id int64) (Evaluation, error) {
	var out Evaluation
	err := c.DoJSON(ctx, http.MethodGet, idPath(pathEvaluations, id), nil, cred, nil, &out)
	return out, err
}

func (c *Client) SaveEvaluation(ctx context.Context, cred Credential, evaluation Evaluation) error {
	if evaluation.ID > 0 {
		return c.DoJSON(ctx, http.MethodPut, idPath(pathEvaluations, evaluation.ID), nil, cred, evaluation, nil)
	}
	return c.DoJSON(ctx, http.MethodPost, pathEvaluations, nil, cred, evaluation, nil)
}

// Competencies lists the competencies (with descriptors) of one evaluation.
func (c *Client) Competencies(ctx context.Context, cred Credential, evaluationID int64) ([]Competency, error) {
	var out []Competency
	q := url.Values{}
	if evaluationID > 0 {
		q.Set("idEvaluacion", strconv.FormatInt(evaluationID, 10))
	}
	err := c.DoJSON(ctx, http.MethodGet, pathCompetencies, q, cred, nil, &out)
	return out, err
}

func (c *Client) SaveCompetency(ctx context.Context, cred Credential, competency Competency) error {
	if competency.ID > 0 {
		return c.DoJSON(ctx, http.MethodPut, idPath(pathCompetencies, competency.ID), nil, cred, competency, nil)
	}
	return c.DoJSON(ctx, http.MethodPost, pathCompetencies, nil, cred, competency, nil)
}

func (c *Client) DeleteCompetency(ctx context.Context, cred Credential, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, idPath(pathCompetencies, id), nil, cred, nil, nil)
}

func (c *Client) SaveDescriptor(ctx context.Context, cred Credential, descriptor Descriptor) error {
	if descriptor.ID > 0 {
		return c.DoJSON(ctx, http.MethodPut, idPath(pathDescriptors, descriptor.ID), nil, cred, descriptor, nil)
	}
	return c.DoJSON(ctx, http.MethodPost, pathDescriptors, nil, cred, descriptor, nil)
}

func (c *Client) DeleteDescriptor(ctx context.Context, cred Credential, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, idPath(pathDescriptors, id), nil, cred, nil, nil)
}

// SubmitAnswers posts a full wizard answer set as one batch.
func (c *Client) SubmitAnswers(ctx context.Context, cred Credential, answers []Answer) error {
	return c.DoJSON(ctx, http.MethodPost, pathResponses, nil, cred, answers, nil)
}

func (c *Client) Results(ctx context.Context, cred Credential, evaluationID int64, colaboradorID, evaluatorID string) ([]Result, error) {
	var out []Result
	q := url.Values{}
	q.Set("idEvaluacion", strconv.FormatInt(evaluationID, 10))
	if colaboradorID != "" {
		q.Set("idColaborador", colaboradorID)
	}
	if evaluatorID != "" {
		q.Set("idEvaluador", evaluatorID)
	}
	err := c.DoJSON(ctx, http.MethodGet, pathResults, q, cred, nil, &out)
	return out, err
}

func (c *Client) CreateComment(ctx context.Context, cred Credential, comment Comment) (Comment, error) {
	var out Comment
	err := c.DoJSON(ctx, http.MethodPost, pathComments, nil, cred, comment, &out)
	return out, err
}

func (c *Client) UpdateComment(ctx context.Context, cred Credential, comment Comment) error {
	return c.DoJSON(ctx, http.MethodPut, idPath(pathComments, comment.ID), nil, cred, comment, nil)
}

func (c *Client) Comments(ctx context.Context, cred Credential, evaluationID int64) ([]Comment, error) {
	var out []Comment
	q := url.Values{"idEvaluacion": {strconv.FormatInt(evaluationID, 10)}}
	err := c.DoJSON(ctx, http.MethodGet, pathComments, q, cred, nil, &out)
	return out, err
}

func (c *Client) CreateCommitment(ctx context.Context, cred Credential, commitment Commitment) error {
	return c.DoJSON(ctx, http.MethodPost, pathCommitments, nil, cred, commitment, nil)
}

func (c *Client) UpdateCommitment(ctx context.Context, cred Credential, commitment Commitment) error {
	return c.DoJSON(ctx, http.MethodPut, idPath(pathCommitments, commitment.ID), nil, cred, commitment, nil)
}

func (c *Client) DeleteCommitment(ctx context.Context, cred Credential, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, idPath(pathCommitments, id), nil, cred, nil, nil)
}

func (c *Client) Commitments(ctx context.Context, cred Credential, evaluationID int64) ([]Commitment, error) {
	var out []Commitment
	q := url.Values{"idEvaluacion": {strconv.FormatInt(evaluationID, 10)}}
	err := c.DoJSON(ctx, http.MethodGet, pathCommitments, q, cred, nil, &out)
	return out, err
}

// FollowUp returns the saved comment and commitments for one evaluated pair.
func (c *Client) FollowUp(ctx context.Context, cred Credential, evaluationID int64, colaboradorID, evaluatorID string) (FollowUp, error) {
	var out FollowUp
	q := url.Values{}
	q.Set("idEvaluacion", strconv.FormatInt(evaluationID, 10))
	q.Set("idColaborador", colaboradorID)
	q.Set("idEvaluador", evaluatorID)
	err := c.DoJSON(ctx, http.MethodGet, pathFollowUp, q, cred, nil, &out)
	return out, err
}

func (c *Client) Assignments(ctx context.Context, cred Credential, evaluationID int64) ([]Assignment, error) {
	var out []Assignment
	q := url.Values{"idEvaluacion": {strconv.FormatInt(evaluationID, 10)}}
	err := c.DoJSON(ctx, http.MethodGet, pathAssignments, q, cred, nil, &out)
	return out, err
}

// Assign posts one chunk of assignments.
func (c *Client) Assign(ctx context.Context, cred Credential, assignments []Assignment) error {
	return c.DoJSON(ctx, http.MethodPost, pathAssignments, nil, cred, assignments, nil)
}

func (c *Client) Summary(ctx context.Context, cred Credential, evaluationID int64) (Summary, error) {
	var out Summary
	q := url.Values{"idEvaluacion": {strconv.FormatInt(evaluationID, 10)}}
	err := c.DoJSON(ctx, http.MethodGet, pathSummary, q, cred, nil, &out)
	return out, err
}

// PDFArchive requests the server generated ZIP of PDFs. The caller closes the body.
func (c *Client) PDFArchive(ctx context.Context, cred Credential, evaluationID int64, documents []string) (*http.Response, error) {
	body := map[string]any{
		"idEvaluacion": evaluationID,
		"documentos":   documents,
	}
	return c.Stream(ctx, http.MethodPost, pathPDFs, nil, cred, body)
}

func (c *Client) DeleteEvaluation(ctx context.Context, cred Credential, id int64) error {
	return c.DoJSON(ctx, http.MethodDelete, idPath(pathEvaluations, id), nil, cred, nil, nil)
}

func (c *Client) DeleteAssignment(ctx context.Context, cred Credential, assignment Assignment) error {
	q := url.Values{}
	q.Set("idEvaluacion", strconv.FormatInt(assignment.EvaluationID, 10))
	q.Set("idColaborador", assignment.ColaboradorID)
	q.Set("idEvaluador", assignment.EvaluatorID)
	return c.DoJSON(ctx, http.MethodDelete, pathAssignments, q, cred, nil, nil)
}
