package impl

import (
	"context"
	"database/sql"
	"fmt"

	"fable-self/internal/pkg/xerrors"
	"fable-self/internal/repository/entity"
	"fable-self/internal/repository/interfaces"
)

type battleRecordRepositoryImpl struct {
	db *sql.DB
}

// NewBattleRecordRepository 创建 BattleRecord 仓储实例。
func NewBattleRecordRepository(db *sql.DB) interfaces.BattleRecordRepository {
	return &battleRecordRepositoryImpl{db: db}
}

func (r *battleRecordRepositoryImpl) Create(ctx context.Context, record *entity.BattleRecord) error {
	if record == nil {
		return fmt.Errorf("battle record is nil")
	}

	query := `
		INSERT INTO battle_records (
			session_id, owner_id, opponent_key, result, rounds,
			reward_experience, reward_gold, turns, started_at, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (session_id) DO UPDATE SET
			result            = EXCLUDED.result,
			rounds            = EXCLUDED.rounds,
			reward_experience = EXCLUDED.reward_experience,
			reward_gold       = EXCLUDED.reward_gold,
			turns             = EXCLUDED.turns,
			finished_at       = EXCLUDED.finished_at
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		record.SessionID,
		record.OwnerID,
		record.OpponentKey,
		record.Result,
		record.Rounds,
		record.RewardExperience,
		record.RewardGold,
		nullJSON(record.Turns),
		record.StartedAt,
		record.FinishedAt,
	)
	if err != nil {
		return xerrors.NewDatabaseError("insert", "battle_records", err)
	}
	return nil
}

func (r *battleRecordRepositoryImpl) ListRecentByOwner(ctx context.Context, ownerID string, limit int) ([]*entity.BattleRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT session_id, owner_id, opponent_key, result, rounds,
		       reward_experience, reward_gold, turns, started_at, finished_at, created_at
		FROM battle_records
		WHERE owner_id = $1
		ORDER BY finished_at DESC NULLS LAST
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, xerrors.NewDatabaseError("select", "battle_records", err)
	}
	defer rows.Close()

	var records []*entity.BattleRecord
	for rows.Next() {
		var rec entity.BattleRecord
		err := rows.Scan(
			&rec.SessionID,
			&rec.OwnerID,
			&rec.OpponentKey,
			&rec.Result,
			&rec.Rounds,
			&rec.RewardExperience,
			&rec.RewardGold,
			&rec.Turns,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, xerrors.NewDatabaseError("scan", "battle_records", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.NewDatabaseError("iterate", "battle_records", err)
	}
	return records, nil
}

func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
