// Package audit keeps a trail of the portal's write operations (submitted
// evaluations, saved follow-ups, exports, bulk assignments) in Postgres.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	ActionLogin          = "session.login"
	ActionLogout         = "session.logout"
	ActionWizardSubmit   = "wizard.submit"
	ActionFollowUpSave   = "followup.save"
	ActionFollowUpUpdate = "followup.update"
	ActionActionDelete   = "followup.action_delete"
	ActionTableExport    = "table.export"
	ActionBulkAssign     = "assignments.bulk"
	ActionAdminWrite     = "admin.write"
	ActionAdminDelete    = "admin.delete"
	ActionReportDownload = "reports.download"
)

// DB is satisfied by *pgxpool.Pool and by pgxmock pools.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Event struct {
	ID           int64           `json:"id"`
	ActorID      string          `json:"actorId"`
	ActorProfile int             `json:"actorProfile"`
	Action       string          `json:"action"`
	EntityType   string          `json:"entityType"`
	EntityID     string          `json:"entityId"`
	RequestID    string          `json:"requestId"`
	IP           string          `json:"ip"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type Filter struct {
	Action     string
	EntityType string
	ActorID    string
}

type Service struct {
	DB DB
}

func New(db DB) *Service {
	return &Service{DB: db}
}

func (s *Service) Record(ctx context.Context, evt Event, details any) error {
	var detailsJSON []byte
	if details != nil {
		payload, err := json.Marshal(details)
		if err != nil {
			return err
		}
		detailsJSON = payload
	}
	_, err := s.DB.Exec(ctx, `
    INSERT INTO audit_events (actor_id, actor_profile, action, entity_type, entity_id, request_id, ip, details_json)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
  `, evt.ActorID, evt.ActorProfile, evt.Action, evt.EntityType, evt.EntityID, evt.RequestID, evt.IP, detailsJSON)
	return err
}

func (s *Service) Count(ctx context.Context, filter Filter) (int, error) {
	query, args := buildBaseQuery("SELECT COUNT(1)", filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]Event, error) {
	query, args := buildBaseQuery("SELECT id, actor_id, actor_profile, action, entity_type, entity_id, request_id, ip, details_json, created_at", filter)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var evt Event
		var details []byte
		if err := rows.Scan(&evt.ID, &evt.ActorID, &evt.ActorProfile, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.RequestID, &evt.IP, &details, &evt.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			evt.Details = details
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func buildBaseQuery(prefix string, filter Filter) (string, []any) {
	query := prefix + " FROM audit_events WHERE 1=1"
	args := []any{}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	return query, args
}
