package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
)

type consentRepository struct {
	BaseRepository
}

func NewConsentRepository(base BaseRepository) repository.ConsentRepository {
	return &consentRepository{base}
}

func (r *consentRepository) GetCurrent(ctx context.Context, patientID uuid.UUID, scope model.ConsentScope) (*model.ConsentRecord, error) {
	query := `
        SELECT * FROM consent_records
        WHERE patient_id = $1 AND scope = $2 AND current = true
    `

	var record model.ConsentRecord
	if err := r.GetDB().GetContext(ctx, &record, query, patientID, scope); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get consent record: %w", err)
	}

	return &record, nil
}

func (r *consentRepository) ListCurrent(ctx context.Context, patientID uuid.UUID) ([]*model.ConsentRecord, error) {
	query := `
        SELECT * FROM consent_records
        WHERE patient_id = $1 AND current = true
    `

	var records []*model.ConsentRecord
	if err := r.GetDB().SelectContext(ctx, &records, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list consent records: %w", err)
	}

	return records, nil
}

func (r *consentRepository) History(ctx context.Context, patientID uuid.UUID, scope model.ConsentScope) ([]*model.ConsentRecord, error) {
	query := `
        SELECT * FROM consent_records
        WHERE patient_id = $1 AND scope = $2
        ORDER BY effective_from ASC
    `

	var records []*model.ConsentRecord
	if err := r.GetDB().SelectContext(ctx, &records, query, patientID, scope); err != nil {
		return nil, fmt.Errorf("failed to get consent history: %w", err)
	}

	return records, nil
}

// Append closes out the current row for the (patient, scope) key and
// inserts the new one in a single transaction. Rows are never updated in
// place beyond the current/effective_until bookkeeping.
func (r *consentRepository) Append(ctx context.Context, record *model.ConsentRecord) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		closeQuery := `
            UPDATE consent_records
            SET current = false, effective_until = $3
            WHERE patient_id = $1 AND scope = $2 AND current = true
        `
		if _, err := tx.ExecContext(ctx, closeQuery, record.PatientID, record.Scope, record.EffectiveFrom); err != nil {
			return fmt.Errorf("failed to close current consent: %w", err)
		}

		insertQuery := `
            INSERT INTO consent_records (
                id, patient_id, tenant_id, scope, status, actor_id,
                effective_from, effective_until, current, created_at, updated_at
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        `
		_, err := tx.ExecContext(ctx, insertQuery,
			record.ID,
			record.PatientID,
			record.TenantID,
			record.Scope,
			record.Status,
			record.ActorID,
			record.EffectiveFrom,
			record.EffectiveUntil,
			record.Current,
			record.CreatedAt,
			record.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert consent record: %w", err)
		}
		return nil
	})
}
