package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/presence/internal/domain"
	"example.com/presence/internal/observability"
)

const defaultCallTimeout = 10 * time.Second

// Snapshotter returns a group's records after rolling their windows over.
type Snapshotter interface {
	RefreshGroup(ctx context.Context, groupID string) ([]domain.ActivityRecord, error)
}

// Option configures optional behaviour for the Reconciler.
type Option func(*Reconciler)

// WithLogger overrides the reconciler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithClock overrides the time source used for rendering.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithCallTimeout bounds each store and platform call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(r *Reconciler) {
		if timeout > 0 {
			r.callTimeout = timeout
		}
	}
}

// WithDefaultChannel sets the channel new artifacts go to when a group has none configured.
func WithDefaultChannel(channelID string) Option {
	return func(r *Reconciler) {
		r.defaultChannel = strings.TrimSpace(channelID)
	}
}

// WithRenderer overrides the dashboard renderer.
func WithRenderer(renderer Renderer) Option {
	return func(r *Reconciler) {
		r.renderer = renderer
	}
}

// Reconciler keeps exactly one dashboard message per group consistent with the records.
// Passes for the same group never overlap.
type Reconciler struct {
	configs     domain.ConfigStore
	records     Snapshotter
	platform    domain.PlatformClient
	renderer       Renderer
	now            func() time.Time
	callTimeout    time.Duration
	defaultChannel string
	logger         zerolog.Logger

	mu       sync.Mutex
	slots    map[string]chan struct{}
	inflight sync.WaitGroup
}

// NewReconciler constructs a Reconciler.
func NewReconciler(configs domain.ConfigStore, records Snapshotter, platform domain.PlatformClient, opts ...Option) *Reconciler {
	r := &Reconciler{
		configs:     configs,
		records:     records,
		platform:    platform,
		renderer:    NewRenderer("", 0),
		now:         func() time.Time { return time.Now().UTC() },
		callTimeout: defaultCallTimeout,
		logger:      zerolog.Nop(),
		slots:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one pass for the group, waiting for a running pass to finish first.
func (r *Reconciler) Reconcile(ctx context.Context, groupID string) error {
	slot := r.slot(groupID)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slot }()

	return r.run(ctx, groupID)
}

// TryReconcile runs one pass unless another pass for the group is in flight, in which case
// it returns ErrReconcileInFlight without doing anything.
func (r *Reconciler) TryReconcile(ctx context.Context, groupID string) error {
	slot := r.slot(groupID)
	select {
	case slot <- struct{}{}:
	default:
		observability.RecordReconcile("skipped", 0)
		return domain.ErrReconcileInFlight
	}
	defer func() { <-slot }()

	return r.run(ctx, groupID)
}

// Trigger starts a background TryReconcile for the group. Failures are only logged.
func (r *Reconciler) Trigger(groupID string) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		err := r.TryReconcile(context.Background(), groupID)
		switch {
		case err == nil, errors.Is(err, domain.ErrReconcileInFlight), errors.Is(err, domain.ErrDashboardNotConfigured):
		default:
			r.logger.Error().Err(err).Str("group_id", groupID).Msg("on-demand dashboard reconcile failed")
		}
	}()
}

// Wait blocks until every pass started by Trigger has returned.
func (r *Reconciler) Wait() {
	r.inflight.Wait()
}

// Preview renders the group's dashboard without touching the platform or the pointer.
// Window rollovers found while reading are persisted.
func (r *Reconciler) Preview(ctx context.Context, groupID string) (domain.Summary, error) {
	records, err := r.records.RefreshGroup(ctx, groupID)
	if err != nil {
		return domain.Summary{}, err
	}
	return r.renderer.Render(records, r.now()), nil
}

// Target returns the channel a new artifact for cfg would be sent to, or "" when there is none.
func (r *Reconciler) Target(cfg domain.GroupConfig) string {
	if target := strings.TrimSpace(cfg.DashboardChannelID); target != "" {
		return target
	}
	return r.defaultChannel
}

func (r *Reconciler) slot(groupID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[groupID]
	if !ok {
		slot = make(chan struct{}, 1)
		r.slots[groupID] = slot
	}
	return slot
}

func (r *Reconciler) run(ctx context.Context, groupID string) error {
	start := time.Now()
	result, err := r.pass(ctx, groupID)
	if err != nil {
		result = "error"
		if errors.Is(err, domain.ErrDashboardNotConfigured) {
			result = "unconfigured"
		}
	}
	observability.RecordReconcile(result, time.Since(start))
	return err
}

func (r *Reconciler) pass(ctx context.Context, groupID string) (string, error) {
	cfg, err := r.loadConfig(ctx, groupID)
	if err != nil {
		return "", err
	}

	records, err := r.records.RefreshGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	summary := r.renderer.Render(records, r.now())

	if cfg.Pointer.HasMessage() {
		err := r.edit(ctx, cfg.Pointer, summary)
		if err == nil {
			return "edited", nil
		}
		if !errors.Is(err, domain.ErrArtifactNotFound) {
			return "", platformErr("edit", err)
		}
		r.logger.Info().
			Str("group_id", groupID).
			Str("channel_id", cfg.Pointer.ChannelID).
			Str("message_id", cfg.Pointer.MessageID).
			Msg("dashboard message missing, creating a replacement")
	}

	if err := r.create(ctx, cfg, summary); err != nil {
		return "", err
	}
	return "created", nil
}

func (r *Reconciler) create(ctx context.Context, cfg domain.GroupConfig, summary domain.Summary) error {
	target := r.Target(cfg)
	if target == "" {
		return fmt.Errorf("%w: group %s", domain.ErrDashboardNotConfigured, cfg.GroupID)
	}

	channel, err := r.fetchChannel(ctx, target)
	if err != nil {
		return platformErr("fetch channel", err)
	}
	if channel == nil {
		return fmt.Errorf("%w: %s", domain.ErrChannelNotFound, target)
	}

	messageID, err := r.send(ctx, target, summary)
	if err != nil {
		if errors.Is(err, domain.ErrChannelNotFound) {
			return fmt.Errorf("send: %w", err)
		}
		return platformErr("send", err)
	}
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("%w: send returned no message id", domain.ErrPlatformUnavailable)
	}
	observability.RecordArtifactCreated()

	pointer := domain.DashboardPointer{ChannelID: target, MessageID: messageID}
	if err := r.savePointer(ctx, cfg.GroupID, pointer); err != nil {
		r.logger.Error().
			Err(err).
			Str("group_id", cfg.GroupID).
			Str("channel_id", target).
			Str("message_id", messageID).
			Msg("dashboard message created but pointer was not saved")
		return err
	}

	r.logger.Info().
		Str("group_id", cfg.GroupID).
		Str("channel_id", target).
		Str("message_id", messageID).
		Msg("dashboard message created")
	return nil
}

func (r *Reconciler) loadConfig(ctx context.Context, groupID string) (domain.GroupConfig, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	cfg, err := r.configs.GetOrCreate(callCtx, groupID)
	if err != nil {
		return domain.GroupConfig{}, fmt.Errorf("%w: load config %s: %w", domain.ErrStoreUnavailable, groupID, err)
	}
	return cfg, nil
}

func (r *Reconciler) savePointer(ctx context.Context, groupID string, pointer domain.DashboardPointer) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	if err := r.configs.SavePointer(callCtx, groupID, pointer); err != nil {
		return fmt.Errorf("%w: save pointer %s: %w", domain.ErrStoreUnavailable, groupID, err)
	}
	return nil
}

func (r *Reconciler) edit(ctx context.Context, pointer domain.DashboardPointer, summary domain.Summary) error {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.platform.EditMessage(callCtx, pointer.ChannelID, pointer.MessageID, summary)
}

func (r *Reconciler) send(ctx context.Context, channelID string, summary domain.Summary) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.platform.SendMessage(callCtx, channelID, summary)
}

func (r *Reconciler) fetchChannel(ctx context.Context, channelID string) (*domain.Channel, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.platform.FetchChannel(callCtx, channelID)
}

func platformErr(op string, err error) error {
	if errors.Is(err, domain.ErrPlatformUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPlatformUnavailable, op, err)
}
