package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Conversation struct {
	ID              string
	Host            string
	StartedAt       time.Time
	EndedAt         time.Time
	SamplesSent     int64
	SamplesReceived int64
	Transcript      string
	// ArtifactKey is empty when the received audio was not archived.
	ArtifactKey string
}

func (c Conversation) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}

type ConversationPersister interface {
	Save(ctx context.Context, conversation Conversation) error
}

type ConversationLister interface {
	List(ctx context.Context, limit int) ([]Conversation, error)
}

type PostgresConversationRepository struct {
	db *pgxpool.Pool
}

func NewPostgresConversationRepository(db *pgxpool.Pool) *PostgresConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func ConversationToRowParams(c Conversation) []any {
	var artifact *string
	if c.ArtifactKey != "" {
		artifact = &c.ArtifactKey
	}
	return []any{
		c.ID,
		c.Host,
		c.StartedAt,
		c.EndedAt,
		c.SamplesSent,
		c.SamplesReceived,
		c.Transcript,
		artifact,
	}
}

func (r *PostgresConversationRepository) Save(ctx context.Context, c Conversation) error {
	const query = `
	INSERT INTO conversation (id, host, started_at, ended_at, samples_sent, samples_received, transcript, artifact_key)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		host = EXCLUDED.host,
		started_at = EXCLUDED.started_at,
		ended_at = EXCLUDED.ended_at,
		samples_sent = EXCLUDED.samples_sent,
		samples_received = EXCLUDED.samples_received,
		transcript = EXCLUDED.transcript,
		artifact_key = EXCLUDED.artifact_key
	`

	if _, err := r.db.Exec(ctx, query, ConversationToRowParams(c)...); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	return nil
}

// List returns the most recent conversations first.
func (r *PostgresConversationRepository) List(ctx context.Context, limit int) ([]Conversation, error) {
	const query = `
	SELECT id::text, host, started_at, ended_at, samples_sent, samples_received, transcript, COALESCE(artifact_key, '')
	FROM conversation
	ORDER BY started_at DESC
	LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	conversations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Conversation, error) {
		var c Conversation
		err := row.Scan(
			&c.ID,
			&c.Host,
			&c.StartedAt,
			&c.EndedAt,
			&c.SamplesSent,
			&c.SamplesReceived,
			&c.Transcript,
			&c.ArtifactKey,
		)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversations: %w", err)
	}
	return conversations, nil
}

var (
	_ ConversationPersister = (*PostgresConversationRepository)(nil)
	_ ConversationLister    = (*PostgresConversationRepository)(nil)
)
