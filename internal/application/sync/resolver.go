package sync

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

// Backoff parameters for the auto-retry strategy.
const (
	BackoffBase   = 1000 * time.Millisecond
	BackoffCap    = 16000 * time.Millisecond
	BackoffJitter = 1000 * time.Millisecond
)

// Resolution marker fields stamped onto merged payloads.
const (
	resolvedMarkerField    = "_resolved"
	resolvedTimestampField = "_resolved_at"
)

// permissive: digits with common punctuation, 7 to 20 characters
var phonePattern = regexp.MustCompile(`^\+?[0-9()\-. ]{7,20}$`)

// ResolverConfig tunes conflict classification and resolution.
type ResolverConfig struct {
	// MaxRetries caps how often auto-retry may be attempted per item.
	MaxRetries int
	// DefaultStrategy applies when classification yields no table entry.
	DefaultStrategy domain.Strategy
	// IdentityField is the business identifier compared for DuplicateKey.
	IdentityField string
	// RequiredFields must be present and non-blank on the target payload.
	RequiredFields []string
}

// normalize applies defaults
func (c *ResolverConfig) normalize() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = domain.DefaultMaxRetries
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = domain.StrategyManual
	}
	if c.IdentityField == "" {
		c.IdentityField = "id"
	}
	if c.RequiredFields == nil {
		c.RequiredFields = []string{"name"}
	}
}

// Candidate is one item's source/target data pair under classification.
type Candidate struct {
	Source     domain.Payload
	Target     domain.Payload
	RetryCount int
	// AdapterErr carries a permission failure reported by the external
	// adapter; the resolver does not detect auth problems itself.
	AdapterErr error
}

// Resolution is the resolver's decision for a candidate.
type Resolution struct {
	// Conflict is false when source and target agree and the item can
	// proceed with its source payload unchanged.
	Conflict bool
	Kind     domain.ConflictKind
	Strategy domain.Strategy
	// Merged is the payload to apply; only set for auto-retry.
	Merged domain.Payload
	Reason string
}

// ConflictResolver classifies source/target discrepancies and decides a
// resolution strategy per the engine's strategy table.
type ConflictResolver struct {
	cfg      ResolverConfig
	validate *validator.Validate
	logger   *zap.Logger

	// sleep is replaced in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConflictResolver creates a resolver with the given configuration.
func NewConflictResolver(cfg ResolverConfig, logger *zap.Logger) *ConflictResolver {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictResolver{
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Classify determines the conflict kind for a candidate, or false when
// there is no conflict. Detection priority: DataMismatch, DuplicateKey,
// ValidationError, AuthError. DataMismatch degrades to RetryExhausted
// once the retry budget is spent.
func (r *ConflictResolver) Classify(c Candidate) (domain.ConflictKind, bool) {
	if len(c.Target) > 0 {
		if fields := c.Source.Diff(c.Target, r.cfg.IdentityField); len(fields) > 0 {
			if c.RetryCount >= r.cfg.MaxRetries {
				return domain.ConflictRetryExhausted, true
			}
			return domain.ConflictDataMismatch, true
		}
		if r.identifiersDiffer(c.Source, c.Target) {
			return domain.ConflictDuplicateKey, true
		}
		if reason := r.validateTarget(c.Target); reason != "" {
			return domain.ConflictValidationError, true
		}
	}
	if c.AdapterErr != nil {
		return domain.ConflictAuthError, true
	}
	return "", false
}

// identifiersDiffer reports whether both payloads carry a non-null
// business identifier with different values.
func (r *ConflictResolver) identifiersDiffer(source, target domain.Payload) bool {
	sv, sok := source[r.cfg.IdentityField]
	tv, tok := target[r.cfg.IdentityField]
	if !sok || !tok || sv.IsNull() || tv.IsNull() {
		return false
	}
	return !sv.Equal(tv)
}

// validateTarget runs the baseline schema rules against the target
// payload and returns the first failure, or "".
func (r *ConflictResolver) validateTarget(target domain.Payload) string {
	for _, field := range r.cfg.RequiredFields {
		v, ok := target[field]
		if !ok || v.IsNull() || (v.Kind() == domain.KindString && strings.TrimSpace(v.Str()) == "") {
			return fmt.Sprintf("required field %q is missing or blank", field)
		}
	}
	if v, ok := target["email"]; ok && !v.IsNull() {
		if err := r.validate.Var(v.Str(), "email"); err != nil {
			return fmt.Sprintf("invalid email %q", v.Str())
		}
	}
	if v, ok := target["phone"]; ok && !v.IsNull() {
		if !phonePattern.MatchString(v.Str()) {
			return fmt.Sprintf("invalid phone %q", v.Str())
		}
	}
	return ""
}

// StrategyFor implements the kind × retry-count strategy table.
func (r *ConflictResolver) StrategyFor(kind domain.ConflictKind, retryCount int) domain.Strategy {
	switch kind {
	case domain.ConflictDataMismatch:
		if retryCount < r.cfg.MaxRetries {
			return domain.StrategyAutoRetry
		}
		return domain.StrategyManual
	case domain.ConflictDuplicateKey:
		return domain.StrategySkip
	case domain.ConflictValidationError, domain.ConflictAuthError,
		domain.ConflictRetryExhausted, domain.ConflictManualReviewRequired:
		return domain.StrategyManual
	}
	return r.cfg.DefaultStrategy
}

// BackoffDelay returns the pre-jitter delay for the given retry count:
// base 1s doubled per retry, capped at 16s.
func (r *ConflictResolver) BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// Beyond this shift the delay is past the cap anyway.
	if retryCount > 10 {
		return BackoffCap
	}
	d := BackoffBase << uint(retryCount)
	if d > BackoffCap {
		return BackoffCap
	}
	return d
}

// Resolve classifies the candidate and executes the decided strategy.
// For auto-retry it sleeps the backoff delay plus jitter and returns the
// deterministic "target over source" merge with a resolution marker; for
// manual and skip the caller records the conflict and disposes of the
// item. No-conflict candidates pass through untouched.
func (r *ConflictResolver) Resolve(ctx context.Context, c Candidate) (Resolution, error) {
	kind, found := r.Classify(c)
	if !found {
		return Resolution{}, nil
	}

	strategy := r.StrategyFor(kind, c.RetryCount)
	res := Resolution{
		Conflict: true,
		Kind:     kind,
		Strategy: strategy,
		Reason:   r.reasonFor(kind, c),
	}

	if strategy != domain.StrategyAutoRetry {
		return res, nil
	}

	delay := r.BackoffDelay(c.RetryCount) + time.Duration(rand.Int63n(int64(BackoffJitter)))
	r.logger.Debug("Auto-retrying conflict",
		zap.String("kind", kind.String()),
		zap.Int("retry_count", c.RetryCount),
		zap.Duration("delay", delay),
	)
	if err := r.sleep(ctx, delay); err != nil {
		return Resolution{}, err
	}

	res.Merged = r.merge(c.Source, c.Target)
	return res, nil
}

// merge applies every target field on top of the source payload and
// stamps the resolution marker. Remote is the source of truth per field.
func (r *ConflictResolver) merge(source, target domain.Payload) domain.Payload {
	merged := source.Merge(target)
	merged[resolvedMarkerField] = domain.BoolValue(true)
	merged[resolvedTimestampField] = domain.StringValue(time.Now().UTC().Format(time.RFC3339))
	return merged
}

// reasonFor builds the human-readable conflict reason.
func (r *ConflictResolver) reasonFor(kind domain.ConflictKind, c Candidate) string {
	switch kind {
	case domain.ConflictDataMismatch:
		return fmt.Sprintf("fields differ between source and target: %s",
			strings.Join(c.Source.Diff(c.Target, r.cfg.IdentityField), ", "))
	case domain.ConflictDuplicateKey:
		return fmt.Sprintf("business identifier %q differs between source and target", r.cfg.IdentityField)
	case domain.ConflictValidationError:
		return r.validateTarget(c.Target)
	case domain.ConflictAuthError:
		return fmt.Sprintf("target system denied permission: %v", c.AdapterErr)
	case domain.ConflictRetryExhausted:
		return fmt.Sprintf("auto-retry attempted %d times without convergence", c.RetryCount)
	}
	return "manual review required"
}
