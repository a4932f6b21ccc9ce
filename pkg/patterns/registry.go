package patterns

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrBadSignature reports a pattern batch whose signature does not verify.
var ErrBadSignature = errors.New("pattern batch signature mismatch")

// Registry holds the rule set. It is read-mostly: evaluation takes a snapshot
// under a read lock, and updates replace entries wholesale under the write
// lock. Registration order is preserved because synchronous evaluation and
// scoring depend on it.
type Registry struct {
	mu        sync.RWMutex
	logger    *logrus.Logger
	ordered   []*SecurityPattern
	byID      map[string]*SecurityPattern
	observers []Observer
	secret    []byte
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithImportSecret sets the shared secret used to verify signed pattern
// batches. Without it, ImportSigned rejects every batch.
func WithImportSecret(secret []byte) RegistryOption {
	return func(r *Registry) { r.secret = secret }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: logger,
		byID:   make(map[string]*SecurityPattern),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates, seals (if needed) and compiles a pattern, then adds it.
// A pattern arriving with a populated integrity hash must verify against it;
// a hand-built pattern with an empty hash is sealed here.
func (r *Registry) Register(p *SecurityPattern) error {
	if p.ID == "" {
		return errors.New("pattern id is required")
	}
	if p.Expr == "" {
		return fmt.Errorf("pattern %q: expression is required", p.ID)
	}
	if !validCategory(p.Category) {
		return fmt.Errorf("pattern %q: unknown category %q", p.ID, p.Category)
	}
	if !validAction(p.Action) {
		return fmt.Errorf("pattern %q: unknown action %q", p.ID, p.Action)
	}

	if p.IntegrityHash == "" {
		p.Seal()
	} else if err := p.VerifyIntegrity(); err != nil {
		return err
	}

	matcher, err := CompileSafe(p.Expr, p.budget(100*time.Millisecond))
	if err != nil {
		return fmt.Errorf("pattern %q: %w", p.ID, err)
	}
	p.matcher = matcher

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[p.ID]; ok {
		// replace-in-place keeps registration order and history
		p.CreatedAt = existing.CreatedAt
		for i, candidate := range r.ordered {
			if candidate.ID == p.ID {
				r.ordered[i] = p
				break
			}
		}
	} else {
		r.ordered = append(r.ordered, p)
	}
	r.byID[p.ID] = p
	return nil
}

// RegisterAll registers patterns in order, stopping on the first error.
func (r *Registry) RegisterAll(ps []*SecurityPattern) error {
	for _, p := range ps {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the pattern with the given id.
func (r *Registry) Get(id string) (*SecurityPattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// SetEnabled toggles a single pattern.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now()
	return true
}

// DisableGroup disables every pattern belonging to the named group, retiring
// a whole attack family atomically. Returns the number disabled.
func (r *Registry) DisableGroup(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.ordered {
		if p.Group == group && p.Enabled {
			p.Enabled = false
			p.UpdatedAt = time.Now()
			n++
		}
	}
	if n > 0 && r.logger != nil {
		r.logger.WithFields(logrus.Fields{"group": group, "disabled": n}).Info("pattern group disabled")
	}
	return n
}

// enabledSnapshot returns the evaluable patterns in registration order: a
// pattern runs only when it is enabled and every pattern it depends on is
// registered and enabled. The returned slice shares pattern pointers;
// patterns themselves are treated as immutable during evaluation.
func (r *Registry) enabledSnapshot() []*SecurityPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SecurityPattern, 0, len(r.ordered))
	for _, p := range r.ordered {
		if p.Enabled && r.dependenciesSatisfiedLocked(p) {
			out = append(out, p)
		}
	}
	return out
}

// dependenciesSatisfiedLocked reports whether every dependency of p is
// registered and enabled. Caller must hold at least the read lock.
func (r *Registry) dependenciesSatisfiedLocked(p *SecurityPattern) bool {
	for _, id := range p.Dependencies {
		dep, ok := r.byID[id]
		if !ok || !dep.Enabled {
			return false
		}
	}
	return true
}

// Snapshot returns copies of all patterns in registration order.
func (r *Registry) Snapshot() []*SecurityPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SecurityPattern, 0, len(r.ordered))
	for _, p := range r.ordered {
		out = append(out, p.clone())
	}
	return out
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Sign computes the signature of a serialized batch under the registry
// secret. Exposed so feed producers and tests can build valid batches.
func (r *Registry) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ImportSigned verifies the signature over the serialized batch, then merges
// the contained patterns. The whole batch is rejected on a signature
// mismatch, a malformed payload, any integrity-hash mismatch, or any
// compile failure; the existing set is left untouched in every failure mode.
func (r *Registry) ImportSigned(payload []byte, signature string) (int, error) {
	if len(r.secret) == 0 {
		r.emit(Event{Kind: EventImportReject, Detail: "no import secret configured"})
		return 0, ErrBadSignature
	}
	want := r.Sign(payload)
	sig, err := hex.DecodeString(signature)
	if err != nil {
		r.emit(Event{Kind: EventImportReject, Detail: "malformed signature"})
		return 0, ErrBadSignature
	}
	wantRaw, _ := hex.DecodeString(want)
	if !hmac.Equal(wantRaw, sig) {
		r.emit(Event{Kind: EventImportReject, Detail: "signature mismatch"})
		return 0, ErrBadSignature
	}

	var batch []*SecurityPattern
	if err := json.Unmarshal(payload, &batch); err != nil {
		r.emit(Event{Kind: EventImportReject, Detail: "malformed batch payload"})
		return 0, fmt.Errorf("decode pattern batch: %w", err)
	}

	// validate the entire batch before merging anything
	for _, p := range batch {
		if p.IntegrityHash == "" {
			p.Seal()
		} else if err := p.VerifyIntegrity(); err != nil {
			r.emit(Event{Kind: EventImportReject, PatternID: p.ID, Detail: "integrity mismatch"})
			return 0, err
		}
		if _, err := CompileSafe(p.Expr, p.budget(100*time.Millisecond)); err != nil {
			r.emit(Event{Kind: EventImportReject, PatternID: p.ID, Detail: "uncompilable pattern"})
			return 0, fmt.Errorf("pattern %q: %w", p.ID, err)
		}
	}

	for _, p := range batch {
		if err := r.Register(p); err != nil {
			// validated above; a failure here indicates a racing conflicting
			// update and still must not half-apply silently
			return 0, err
		}
	}
	r.emit(Event{Kind: EventImport, Detail: fmt.Sprintf("%d patterns merged", len(batch))})
	if r.logger != nil {
		r.logger.WithField("patterns", len(batch)).Info("signed pattern batch merged")
	}
	return len(batch), nil
}

// AddObserver registers a telemetry observer.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// emit delivers an event to every observer, isolating observer panics.
func (r *Registry) emit(evt Event) {
	r.mu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.RUnlock()
	for _, o := range observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil && r.logger != nil {
					r.logger.WithField("panic", rec).Warn("pattern observer panicked")
				}
			}()
			o.OnPatternEvent(evt)
		}()
	}
}
