package httpapi

import (
	"context"
	"time"

	"realitymarket/internal/ingest"
	"realitymarket/pkg/types"
)

// Ingester is the Ingest Gateway surface the ingest endpoint drives.
type Ingester interface {
	IngestEvent(ctx context.Context, payload []byte, signatureHex string) (ingest.Result, error)
}

// AuditReader is the Audit Workflow surface the admin audit endpoints drive.
type AuditReader interface {
	ListPending(ctx context.Context) ([]types.AuditRecord, error)
	Decide(ctx context.Context, id, approver string, approve bool, reason string) (types.AuditRecord, error)
}

// InstrumentAdmin is the subset of dbstore the admin stock endpoints drive.
type InstrumentAdmin interface {
	CreateInstrument(ctx context.Context, inst types.Instrument, neutral float64) error
	ListInstruments(ctx context.Context) ([]types.Instrument, error)
	GetInstrument(ctx context.Context, symbol string) (types.Instrument, error)
}

// ReadStore is the subset of dbstore the public read surface drives.
type ReadStore interface {
	GetScore(ctx context.Context, symbol string) (types.Score, error)
	ScoreHistory(ctx context.Context, symbol string, since time.Time) ([]types.ScoreChange, error)
	ListEventsBySymbol(ctx context.Context, symbol string, limit int) ([]types.Event, error)
}
