package premium

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/store"
)

// GrowPlan is a plan pushed by the planner for one strain.
type GrowPlan struct {
	Strain    string         `json:"strain"`
	BloomDays float64        `json:"bloomDays"`
	Stages    map[string]any `json:"stages,omitempty"`
}

// PlanStore persists grow plans per room and strain in SQLite.
type PlanStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPlanStore creates a plan store on db.
func NewPlanStore(db *sql.DB) *PlanStore {
	return &PlanStore{db: db, now: time.Now}
}

// Save upserts a plan.
func (p *PlanStore) Save(ctx context.Context, room string, plan GrowPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	now := p.now().UTC().Unix()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO grow_plans (room, strain, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room, strain) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, room, plan.Strain, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to store plan: %w", err)
	}
	return nil
}

// Get returns the plan for strain. ok is false when none is stored.
func (p *PlanStore) Get(ctx context.Context, room, strain string) (GrowPlan, bool, error) {
	var payload string
	err := p.db.QueryRowContext(ctx, `
		SELECT payload FROM grow_plans WHERE room = ? AND strain = ?
	`, room, strain).Scan(&payload)
	if err == sql.ErrNoRows {
		return GrowPlan{}, false, nil
	}
	if err != nil {
		return GrowPlan{}, false, fmt.Errorf("failed to get plan: %w", err)
	}
	var plan GrowPlan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return GrowPlan{}, false, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return plan, true, nil
}

// Strains lists the strains with a stored plan.
func (p *PlanStore) Strains(ctx context.Context, room string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT strain FROM grow_plans WHERE room = ? ORDER BY strain`, room)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan strain: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ApplyPlan copies the plan's bloom days into the room when the strain is active.
func ApplyPlan(s *store.Store, plan GrowPlan) bool {
	if plan.BloomDays <= 0 || !strings.EqualFold(s.String("strainName"), plan.Strain) {
		return false
	}
	return s.SetPath("plantDates.breederbloomdays", plan.BloomDays)
}

func (u *Uplink) handlePlan(_ string, payload []byte) error {
	var plan GrowPlan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	if strings.TrimSpace(plan.Strain) == "" {
		return fmt.Errorf("%w: grow plan without strain", ErrInvalidBatch)
	}
	if err := u.plans.Save(u.baseCtx(), u.room, plan); err != nil {
		return err
	}
	applied := ApplyPlan(u.store, plan)
	log.Info().Str("room", u.room).Str("strain", plan.Strain).Bool("applied", applied).Msg("Grow plan received")
	return nil
}
