package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"parcelflow/internal/config"
	"parcelflow/internal/domain"
	"parcelflow/internal/engine"
)

const (
	webhookPollInterval = 2 * time.Second
	webhookTimeout      = 5 * time.Second
	webhookBatch        = 100
)

// subscription is one configured hook and how far along the event log it has
// been delivered. Offsets are kept in memory; after a restart delivery resumes
// at the newest event.
type subscription struct {
	hook      config.WebhookConfig
	client    *http.Client
	types     map[string]bool
	caseTypes map[string]bool
	offset    int64
	started   bool
}

func (s *subscription) wants(evt domain.Event) bool {
	if len(s.types) > 0 && !s.types[evt.Type] {
		return false
	}
	if len(s.caseTypes) > 0 && !s.caseTypes[evt.CaseType] {
		return false
	}
	return true
}

// notifier pushes audit events to external gateways, such as the SMS service
// that tells an applicant their certificate is ready.
type notifier struct {
	repo interface {
		EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
		LatestEventID(ctx context.Context) (int64, error)
	}
	subs   []*subscription
	logger *zap.Logger
}

func newWebhookDispatcher(e engine.Engine, logger *zap.Logger) *notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &notifier{repo: e.Repo, logger: logger}
	if e.Config == nil {
		return n
	}
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := webhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		n.subs = append(n.subs, &subscription{
			hook:      hook,
			client:    &http.Client{Timeout: timeout},
			types:     toSet(hook.Events),
			caseTypes: toSet(hook.CaseTypes),
		})
	}
	return n
}

// StartWebhooks polls the event log until ctx is done. Nothing is started
// when no hook is enabled.
func StartWebhooks(ctx context.Context, e engine.Engine, logger *zap.Logger) {
	n := newWebhookDispatcher(e, logger)
	if len(n.subs) == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(webhookPollInterval)
		defer ticker.Stop()
		for {
			n.dispatchAll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (n *notifier) dispatchAll(ctx context.Context) {
	for _, s := range n.subs {
		n.deliver(ctx, s)
	}
}

// deliver sends pending events in order and stops at the first failure so the
// event is retried on the next poll.
func (n *notifier) deliver(ctx context.Context, s *subscription) {
	if !s.started {
		latest, err := n.repo.LatestEventID(ctx)
		if err != nil {
			n.logger.Warn("webhook offset", zap.String("url", s.hook.URL), zap.Error(err))
			return
		}
		s.offset, s.started = latest, true
	}
	pending, err := n.repo.EventsAfter(ctx, webhookBatch, s.offset)
	if err != nil {
		n.logger.Warn("webhook poll", zap.String("url", s.hook.URL), zap.Error(err))
		return
	}
	for _, evt := range pending {
		if s.wants(evt) {
			if err := s.post(ctx, evt); err != nil {
				n.logger.Warn("webhook delivery failed",
					zap.String("url", s.hook.URL), zap.Int64("event_id", evt.ID), zap.Error(err))
				return
			}
			n.logger.Debug("webhook delivered", zap.String("type", evt.Type), zap.Int64("event_id", evt.ID))
		}
		s.offset = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	CaseType   string          `json:"case_type,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (s *subscription) post(ctx context.Context, evt domain.Event) error {
	payload := json.RawMessage(`{}`)
	if json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	body, err := json.Marshal(webhookEvent{
		ID: evt.ID, Type: evt.Type, CaseType: evt.CaseType,
		EntityKind: evt.EntityKind, EntityID: evt.EntityID,
		ActorID: evt.ActorID, TS: evt.TS, Payload: payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Parcelflow-Event", evt.Type)
	req.Header.Set("X-Parcelflow-Delivery", strconv.FormatInt(evt.ID, 10))
	if s.hook.Secret != "" {
		req.Header.Set("X-Parcelflow-Secret", s.hook.Secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("gateway answered %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func toSet(values []string) map[string]bool {
	set := map[string]bool{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = true
		}
	}
	return set
}
