package repository

import (
	"context"

	"github.com/jaydeelew/compareintel/internal/models"
)

// Repository aggregates all repository interfaces
type Repository interface {
	Usage() UsageRepositoryInterface
	Transcript() TranscriptRepositoryInterface
	Event() EventRepositoryInterface
}

// UsageRepositoryInterface defines usage record persistence
type UsageRepositoryInterface interface {
	AppendUsage(ctx context.Context, rec *models.UsageRecord) error
	GetUsageRecords(ctx context.Context, limit int) ([]*models.UsageRecord, error)
}

// TranscriptRepositoryInterface defines transcript persistence
type TranscriptRepositoryInterface interface {
	AppendTranscript(ctx context.Context, rec *models.TranscriptRecord) error
}

// EventRepositoryInterface defines event logging operations
type EventRepositoryInterface interface {
	LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error
}
