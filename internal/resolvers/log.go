package resolvers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/policy"
)

// ActionRecommend is the action type emitted by LogResolver.
const ActionRecommend = "recommend"

// LogResolver turns every recommendation into an action and logs it. It never touches
// the observed system.
type LogResolver struct {
	policy.UnimplementedResolver
	logger *slog.Logger
	now    func() time.Time
}

// NewLogResolver constructs a LogResolver.
func NewLogResolver(logger *slog.Logger) *LogResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogResolver{logger: logger.With("component", "log-resolver"), now: time.Now}
}

func (r *LogResolver) Name() string { return "log" }

func (r *LogResolver) ActionNames() ([]string, error) {
	return []string{ActionRecommend}, nil
}

// Resolve emits one action per recommendation of every diagnosis.
func (r *LogResolver) Resolve(_ context.Context, diagnoses []models.Diagnosis) ([]models.Action, error) {
	var actions []models.Action
	instant := r.now().UTC()
	for _, d := range diagnoses {
		for _, rec := range d.Recommendations {
			action := models.Action{
				ID:          uuid.NewString(),
				Type:        ActionRecommend,
				Resolver:    r.Name(),
				Instant:     instant,
				Assignments: d.Assignments,
				Diagnoses:   []string{d.Type},
				Detail:      rec,
			}
			r.logger.Info("recommended action",
				slog.String("action_id", action.ID),
				slog.String("diagnosis", d.Type),
				slog.String("assignments", strings.Join(d.Assignments, ",")),
				slog.Float64("confidence", d.Confidence),
				slog.String("detail", rec))
			actions = append(actions, action)
		}
	}
	return actions, nil
}
