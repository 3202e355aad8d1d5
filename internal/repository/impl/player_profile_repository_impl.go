package impl

import (
	"context"
	"database/sql"

	"fable-self/internal/pkg/xerrors"
	"fable-self/internal/repository/entity"
	"fable-self/internal/repository/interfaces"
)

type playerProfileRepositoryImpl struct {
	db *sql.DB
}

// NewPlayerProfileRepository 创建 PlayerProfile 仓储实例。
func NewPlayerProfileRepository(db *sql.DB) interfaces.PlayerProfileRepository {
	return &playerProfileRepositoryImpl{db: db}
}

const playerProfileColumns = `
	owner_id, display_name, level, experience, gold,
	attack, defense, health, max_health, combat_style, critical_chance,
	battle_wins, battle_losses, battle_flees,
	last_battle_at, created_at, updated_at, deleted_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlayerProfile(row rowScanner) (*entity.PlayerProfile, error) {
	var p entity.PlayerProfile
	err := row.Scan(
		&p.OwnerID,
		&p.DisplayName,
		&p.Level,
		&p.Experience,
		&p.Gold,
		&p.Attack,
		&p.Defense,
		&p.Health,
		&p.MaxHealth,
		&p.CombatStyle,
		&p.CriticalChance,
		&p.BattleWins,
		&p.BattleLosses,
		&p.BattleFlees,
		&p.LastBattleAt,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *playerProfileRepositoryImpl) GetByOwnerID(ctx context.Context, ownerID string) (*entity.PlayerProfile, error) {
	query := `
		SELECT ` + playerProfileColumns + `
		FROM player_profiles
		WHERE owner_id = $1 AND deleted_at IS NULL
	`

	profile, err := scanPlayerProfile(r.db.QueryRowContext(ctx, query, ownerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, xerrors.NewProfileNotFoundError(ownerID)
		}
		return nil, xerrors.NewDatabaseError("select", "player_profiles", err)
	}
	return profile, nil
}

func (r *playerProfileRepositoryImpl) Create(ctx context.Context, profile *entity.PlayerProfile) error {
	query := `
		INSERT INTO player_profiles (
			owner_id, display_name, level, experience, gold,
			attack, defense, health, max_health, combat_style, critical_chance,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		profile.OwnerID,
		profile.DisplayName,
		profile.Level,
		profile.Experience,
		profile.Gold,
		profile.Attack,
		profile.Defense,
		profile.Health,
		profile.MaxHealth,
		profile.CombatStyle,
		profile.CriticalChance,
	)
	if err != nil {
		return xerrors.NewDatabaseError("insert", "player_profiles", err)
	}
	return nil
}

// experienceForNextLevel 返回从 level 升到 level+1 需要的等级内经验。
func experienceForNextLevel(level int) int64 {
	return int64(100 * level)
}

func (r *playerProfileRepositoryImpl) ApplyBattleOutcome(ctx context.Context, outcome *interfaces.BattleOutcome) (*entity.PlayerProfile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.NewDatabaseError("begin_transaction", "player_profiles", err)
	}
	defer tx.Rollback()

	// 行锁读取, 升级计算在 Go 侧完成
	selectQuery := `
		SELECT level, experience, gold, battle_wins, battle_losses, battle_flees
		FROM player_profiles
		WHERE owner_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`

	var (
		level            int
		experience, gold int64
		wins, losses     int
		flees            int
	)
	err = tx.QueryRowContext(ctx, selectQuery, outcome.OwnerID).Scan(
		&level, &experience, &gold, &wins, &losses, &flees,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, xerrors.NewProfileNotFoundError(outcome.OwnerID)
		}
		return nil, xerrors.NewDatabaseError("select", "player_profiles", err)
	}

	experience += outcome.Experience
	gold += outcome.Gold
	for experience >= experienceForNextLevel(level) {
		experience -= experienceForNextLevel(level)
		level++
	}

	switch outcome.Result {
	case "victory":
		wins++
	case "defeat", "timedOut":
		losses++
	case "fled":
		flees++
	}

	updateQuery := `
		UPDATE player_profiles
		SET level = $2, experience = $3, gold = $4, health = $5,
		    battle_wins = $6, battle_losses = $7, battle_flees = $8,
		    last_battle_at = $9, updated_at = NOW()
		WHERE owner_id = $1 AND deleted_at IS NULL
		RETURNING ` + playerProfileColumns + `
	`

	profile, err := scanPlayerProfile(tx.QueryRowContext(ctx, updateQuery,
		outcome.OwnerID, level, experience, gold, outcome.Health,
		wins, losses, flees, outcome.FinishedAt,
	))
	if err != nil {
		return nil, xerrors.NewDatabaseError("update", "player_profiles", err)
	}

	// 奖励物品入库
	if len(outcome.Items) > 0 {
		itemQuery := `
			INSERT INTO player_items (owner_id, item_key, quantity, obtained_at)
			VALUES ($1, $2, 1, NOW())
			ON CONFLICT (owner_id, item_key) DO UPDATE SET
				quantity    = player_items.quantity + 1,
				obtained_at = NOW()
		`
		for _, item := range outcome.Items {
			if _, err := tx.ExecContext(ctx, itemQuery, outcome.OwnerID, item); err != nil {
				return nil, xerrors.NewDatabaseError("insert", "player_items", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, xerrors.NewDatabaseError("commit_transaction", "player_profiles", err)
	}
	return profile, nil
}
