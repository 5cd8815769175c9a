package resolvers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/utils"
)

// ActionNotify is the action type emitted by WebhookResolver.
const ActionNotify = "notify"

// WebhookConfig configures a WebhookResolver.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookResolver posts diagnoses to an external endpoint, e.g. an incident manager.
type WebhookResolver struct {
	cfg        WebhookConfig
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

type webhookDiagnosis struct {
	Type            string    `json:"type"`
	Instant         time.Time `json:"instant"`
	Assignments     []string  `json:"assignments"`
	Confidence      float64   `json:"confidence"`
	Symptoms        []string  `json:"symptoms"`
	Recommendations []string  `json:"recommendations"`
}

type webhookPayload struct {
	ActionID  string           `json:"action_id"`
	Sent      time.Time        `json:"sent"`
	Diagnosis webhookDiagnosis `json:"diagnosis"`
}

// NewWebhookResolver constructs a WebhookResolver. Timeout defaults to 5s.
func NewWebhookResolver(cfg WebhookConfig, logger *slog.Logger) *WebhookResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookResolver{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "webhook-resolver"),
		now:        time.Now,
	}
}

func (r *WebhookResolver) Name() string { return "webhook" }

func (r *WebhookResolver) ActionNames() ([]string, error) {
	return []string{ActionNotify}, nil
}

// Initialize validates the target URL.
func (r *WebhookResolver) Initialize(context.Context) error {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return utils.NewAppError("webhook.init", "invalid url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return utils.NewAppError("webhook.init", fmt.Sprintf("unsupported url %q", r.cfg.URL), nil)
	}
	return nil
}

// Resolve posts each diagnosis separately and returns one action per delivered diagnosis.
// The first failed delivery aborts the stage.
func (r *WebhookResolver) Resolve(ctx context.Context, diagnoses []models.Diagnosis) ([]models.Action, error) {
	actions := make([]models.Action, 0, len(diagnoses))
	for _, d := range diagnoses {
		action := models.Action{
			ID:          uuid.NewString(),
			Type:        ActionNotify,
			Resolver:    r.Name(),
			Instant:     r.now().UTC(),
			Assignments: d.Assignments,
			Diagnoses:   []string{d.Type},
			Detail:      r.cfg.URL,
		}
		if err := r.post(ctx, action, d); err != nil {
			return nil, err
		}
		r.logger.Info("diagnosis delivered",
			slog.String("action_id", action.ID),
			slog.String("diagnosis", d.Type))
		actions = append(actions, action)
	}
	return actions, nil
}

func (r *WebhookResolver) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

func (r *WebhookResolver) post(ctx context.Context, action models.Action, d models.Diagnosis) error {
	symptoms := make([]string, 0, len(d.Symptoms))
	for _, s := range d.Symptoms {
		symptoms = append(symptoms, s.Type)
	}
	body, err := json.Marshal(webhookPayload{
		ActionID: action.ID,
		Sent:     action.Instant,
		Diagnosis: webhookDiagnosis{
			Type:            d.Type,
			Instant:         d.Instant,
			Assignments:     d.Assignments,
			Confidence:      d.Confidence,
			Symptoms:        symptoms,
			Recommendations: d.Recommendations,
		},
	})
	if err != nil {
		return utils.NewAppError("webhook.post", "marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError("webhook.post", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError("webhook.post", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewStatusError("webhook.post", resp.StatusCode)
	}
	return nil
}
