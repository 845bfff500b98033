package repository

import (
	"context"
	"time"

	"github.com/jaydeelew/compareintel/internal/models"
	"github.com/jaydeelew/compareintel/internal/store"
)

// SQLiteRepository implements Repository interface using SQLite
type SQLiteRepository struct {
	db             *store.DB
	usageRepo      UsageRepositoryInterface
	transcriptRepo TranscriptRepositoryInterface
	eventRepo      EventRepositoryInterface
}

func NewSQLiteRepository(db *store.DB) Repository {
	return &SQLiteRepository{
		db:             db,
		usageRepo:      &SQLiteUsageRepository{db: db},
		transcriptRepo: &SQLiteTranscriptRepository{db: db},
		eventRepo:      &SQLiteEventRepository{db: db},
	}
}

func (r *SQLiteRepository) Usage() UsageRepositoryInterface {
	return r.usageRepo
}

func (r *SQLiteRepository) Transcript() TranscriptRepositoryInterface {
	return r.transcriptRepo
}

func (r *SQLiteRepository) Event() EventRepositoryInterface {
	return r.eventRepo
}

// SQLiteUsageRepository handles usage record persistence
type SQLiteUsageRepository struct {
	db *store.DB
}

func (r *SQLiteUsageRepository) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO usage_records(
		id, ts, req_id, identity_key, input_length, models_requested, models_successful,
		models_failed, tokens_in, tokens_out, effective_tokens, credits_charged, dur_ms)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID,
		float64(rec.Timestamp.UnixNano())/1e9,
		rec.ReqID,
		rec.IdentityKey,
		rec.InputLength,
		rec.ModelsRequested,
		rec.ModelsSuccessful,
		rec.ModelsFailed,
		rec.TokensIn,
		rec.TokensOut,
		rec.EffectiveTokens,
		rec.CreditsCharged,
		rec.DurationMs,
	)
	return err
}

func (r *SQLiteUsageRepository) GetUsageRecords(ctx context.Context, limit int) ([]*models.UsageRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,ts,req_id,identity_key,input_length,models_requested,models_successful,models_failed,tokens_in,tokens_out,effective_tokens,credits_charged,dur_ms FROM usage_records ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		var tsFloat float64

		if err := rows.Scan(
			&rec.ID, &tsFloat, &rec.ReqID, &rec.IdentityKey, &rec.InputLength,
			&rec.ModelsRequested, &rec.ModelsSuccessful, &rec.ModelsFailed,
			&rec.TokensIn, &rec.TokensOut, &rec.EffectiveTokens,
			&rec.CreditsCharged, &rec.DurationMs,
		); err == nil {
			rec.Timestamp = time.Unix(0, int64(tsFloat*1e9))
			records = append(records, &rec)
		}
	}

	return records, rows.Err()
}

// SQLiteTranscriptRepository handles transcript persistence
type SQLiteTranscriptRepository struct {
	db *store.DB
}

func (r *SQLiteTranscriptRepository) AppendTranscript(ctx context.Context, rec *models.TranscriptRecord) error {
	errored := 0
	if rec.Error {
		errored = 1
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO transcripts(id, ts, req_id, model, input, output, error)
		VALUES(?,?,?,?,?,?,?)`,
		rec.ID,
		float64(rec.Timestamp.UnixNano())/1e9,
		rec.ReqID,
		rec.Model,
		rec.Input,
		rec.Output,
		errored,
	)
	return err
}

// SQLiteEventRepository handles event logging
type SQLiteEventRepository struct {
	db *store.DB
}

func (r *SQLiteEventRepository) LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error {
	r.db.Event(level, code, msg, meta)
	return nil
}
