package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/models"
)

type ActivityRepository struct {
	db  Querier
	log zerolog.Logger
}

func NewActivityRepository(db Querier, log zerolog.Logger) *ActivityRepository {
	return &ActivityRepository{db: db, log: log}
}

func (r *ActivityRepository) Insert(ctx context.Context, a models.Activity) error {
	const query = `
		INSERT INTO user_activities (
			id, user_id, session_id, action, ip_address, user_agent, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	var metadata []byte
	if len(a.Metadata) > 0 {
		raw, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encode activity metadata: %w", err)
		}
		metadata = raw
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.UserID,
		a.SessionID,
		string(a.Action),
		a.IPAddress,
		a.UserAgent,
		metadata,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// Record implements session.ActivityRecorder. Failures are logged and dropped.
func (r *ActivityRepository) Record(ctx context.Context, a models.Activity) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := r.Insert(ctx, a); err != nil {
		r.log.Warn().Err(err).
			Str("user_id", a.UserID).
			Str("session_id", a.SessionID).
			Str("action", string(a.Action)).
			Msg("record activity failed")
	}
}
