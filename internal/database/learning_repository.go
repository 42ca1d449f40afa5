package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cryptodash/autopilot/internal/models"
)

// PgxExecutor is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type PgxExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// LearningRepository mirrors the learning ledger into PostgreSQL. The mirror
// is a pure projection of the JSON snapshot: writes are best-effort and the
// ledger never depends on reading it back.
type LearningRepository struct {
	db PgxExecutor
}

// NewLearningRepository creates a repository over a pgx pool or mock.
func NewLearningRepository(db PgxExecutor) *LearningRepository {
	return &LearningRepository{db: db}
}

// EnsureSchema creates the mirror tables when they do not exist.
func (r *LearningRepository) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ai_analyses (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			entry DOUBLE PRECISION NOT NULL,
			stop DOUBLE PRECISION NOT NULL,
			target DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			analysis_id TEXT PRIMARY KEY REFERENCES ai_analyses(id),
			predicted_dir TEXT NOT NULL,
			predicted_confidence DOUBLE PRECISION NOT NULL,
			actual_dir TEXT,
			actual_pnl DOUBLE PRECISION,
			was_correct BOOLEAN,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS progress (
			id INT PRIMARY KEY DEFAULT 1,
			level INT NOT NULL,
			xp INT NOT NULL,
			total_analyses INT NOT NULL,
			correct INT NOT NULL,
			incorrect INT NOT NULL,
			pending INT NOT NULL,
			accuracy DOUBLE PRECISION NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure learning mirror schema: %w", err)
		}
	}
	return nil
}

// MirrorAnalysis projects a recorded analysis and its pending prediction.
func (r *LearningRepository) MirrorAnalysis(ctx context.Context, a models.AIAnalysis) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ai_analyses (id, symbol, direction, confidence, entry, stop, target, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Symbol, string(a.Direction), a.Confidence, a.Entry, a.Stop, a.Target, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mirror analysis %s: %w", a.ID, err)
	}

	if a.Prediction != nil {
		_, err = r.db.Exec(ctx,
			`INSERT INTO predictions (analysis_id, predicted_dir, predicted_confidence)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (analysis_id) DO NOTHING`,
			a.Prediction.AnalysisID, string(a.Prediction.PredictedDirection), a.Prediction.PredictedConfidence,
		)
		if err != nil {
			return fmt.Errorf("failed to mirror prediction %s: %w", a.ID, err)
		}
	}
	return nil
}

// MirrorResolution projects a resolved prediction.
func (r *LearningRepository) MirrorResolution(ctx context.Context, p models.Prediction) error {
	_, err := r.db.Exec(ctx,
		`UPDATE predictions
		 SET actual_dir = $2, actual_pnl = $3, was_correct = $4, resolved_at = $5
		 WHERE analysis_id = $1`,
		p.AnalysisID, string(*p.ActualDirection), *p.ActualPnLPct, *p.WasCorrect, *p.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mirror resolution %s: %w", p.AnalysisID, err)
	}
	return nil
}

// MirrorProgress projects the aggregate progress row.
func (r *LearningRepository) MirrorProgress(ctx context.Context, pr models.Progress) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO progress (id, level, xp, total_analyses, correct, incorrect, pending, accuracy)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			level = EXCLUDED.level,
			xp = EXCLUDED.xp,
			total_analyses = EXCLUDED.total_analyses,
			correct = EXCLUDED.correct,
			incorrect = EXCLUDED.incorrect,
			pending = EXCLUDED.pending,
			accuracy = EXCLUDED.accuracy`,
		pr.Level, pr.XP, pr.TotalAnalyses, pr.Correct, pr.Incorrect, pr.Pending, pr.Accuracy,
	)
	if err != nil {
		return fmt.Errorf("failed to mirror progress: %w", err)
	}
	return nil
}
