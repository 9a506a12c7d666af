package rete

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config holds the engine's ambient settings (spec §12).
type Config struct {
	StrictMode bool
	Logger     *zap.Logger
}

// EngineOption configures an Engine at construction time (spec §12,
// functional-options idiom).
type EngineOption func(*Config)

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(c *Config) { c.Logger = l }
}

// WithStrictMode makes a panicking TEST/BIND predicate surface as a
// TestPanicError from the AddFact/RemoveFact/UpdateFact call whose
// propagation triggered it, instead of only being logged (spec §7.1).
func WithStrictMode(strict bool) EngineOption {
	return func(c *Config) { c.StrictMode = strict }
}

// Engine is a Rete network: working memory, compiled productions, and
// the conflict set they feed (spec §2).
type Engine struct {
	cfg    Config
	logger *zap.Logger

	alpha *alphaNetwork
	beta  *betaNetwork
	store *FactStore

	wmeTable     map[WMEHandle]WME
	factWMEs     map[FactID][]WMEHandle
	nextWMEHandle uint64
	nextFactID   int64

	productions map[ProductionID]*Production
	conflictSet *ConflictSet

	mu    sync.Mutex
	depth int

	testErrors  []error
	pendingPanic error
}

// NewEngine constructs an empty engine.
func NewEngine(opts ...EngineOption) *Engine {
	cfg := Config{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:         cfg,
		logger:      cfg.Logger,
		alpha:       newAlphaNetwork(),
		beta:        newBetaNetwork(),
		store:       newFactStore(),
		wmeTable:    make(map[WMEHandle]WME),
		factWMEs:    make(map[FactID][]WMEHandle),
		productions: make(map[ProductionID]*Production),
		conflictSet: newConflictSet(),
	}
}

// enter acquires the engine's non-reentrancy guard (spec §5): a nested
// call made from inside a firing action, on the same goroutine, is
// detected via depth and allowed to proceed without blocking on itself
// (an action calling AddFact/RemoveFact/UpdateFact/AddProduction is
// normal); a second, genuinely concurrent caller blocks on TryLock
// failing and is rejected instead, since blocking could deadlock an
// action that calls back into the engine it is running inside of.
func (eng *Engine) enter() error {
	if eng.depth > 0 {
		eng.depth++
		return nil
	}
	if !eng.mu.TryLock() {
		return ErrReentrantFire
	}
	eng.depth++
	return nil
}

func (eng *Engine) leave() {
	eng.depth--
	if eng.depth == 0 {
		eng.mu.Unlock()
	}
}

func (eng *Engine) wmeByHandle(h WMEHandle) WME { return eng.wmeTable[h] }

func (eng *Engine) recordTestError(name string, err error) {
	eng.logger.Warn("test/bind predicate returned an error", zap.String("name", name), zap.Error(err))
	eng.testErrors = append(eng.testErrors, errors.Wrapf(err, "rete: %s", name))
}

// recordPanic stores the first TEST/BIND panic observed during the
// propagation caused by the current top-level mutation call, when
// running in StrictMode (spec §7.1): AddFact/RemoveFact/UpdateFact
// check takePanic just before returning, so the panic surfaces as a
// TestPanicError from the mutation call that triggered it rather than
// crashing the goroutine.
func (eng *Engine) recordPanic(name string, r interface{}) {
	eng.logger.Error("test/bind predicate panicked", zap.String("name", name), zap.Any("recovered", r))
	if eng.pendingPanic == nil {
		eng.pendingPanic = &TestPanicError{Name: name, Recovered: r}
	}
}

// takePanic returns and clears any panic recorded by recordPanic since
// the last call.
func (eng *Engine) takePanic() error {
	err := eng.pendingPanic
	eng.pendingPanic = nil
	return err
}

// AddFact inserts a fact into working memory, assigning it a fresh
// FactID, and propagates its WMEs through the alpha network
// (spec §4.7).
func (eng *Engine) AddFact(f *Fact) (FactID, error) {
	if err := eng.enter(); err != nil {
		return 0, err
	}
	defer eng.leave()

	eng.nextFactID++
	id := FactID(eng.nextFactID)
	f.id = id
	eng.store.put(id, f)

	wmes := decompose(id, f)
	handles := make([]WMEHandle, 0, len(wmes))
	for _, w := range wmes {
		eng.nextWMEHandle++
		h := WMEHandle(eng.nextWMEHandle)
		w.handle = h
		eng.wmeTable[h] = w
		handles = append(handles, h)
		eng.alpha.activateInsert(eng, w, h)
	}
	eng.factWMEs[id] = handles
	eng.logger.Debug("fact added", zap.Int64("fact_id", int64(id)), zap.Int("wmes", len(handles)))
	if eng.cfg.StrictMode {
		if err := eng.takePanic(); err != nil {
			return id, err
		}
	}
	return id, nil
}

// RemoveFact retracts a fact, propagating removal through the alpha
// and beta networks.
func (eng *Engine) RemoveFact(id FactID) error {
	if err := eng.enter(); err != nil {
		return err
	}
	defer eng.leave()
	if err := eng.removeFactLocked(id); err != nil {
		return err
	}
	if eng.cfg.StrictMode {
		return eng.takePanic()
	}
	return nil
}

func (eng *Engine) removeFactLocked(id FactID) error {
	handles, ok := eng.factWMEs[id]
	if !ok {
		return errors.Wrapf(ErrUnknownFact, "fact %d", id)
	}
	for _, h := range handles {
		w := eng.wmeTable[h]
		eng.alpha.activateRemove(eng, w, h)
		delete(eng.wmeTable, h)
	}
	delete(eng.factWMEs, id)
	eng.store.delete(id)
	eng.logger.Debug("fact removed", zap.Int64("fact_id", int64(id)))
	return nil
}

// UpdateFact replaces a fact's content in place, preserving its
// FactID, and propagates only the attributes that actually changed
// (spec §4.7.1, "WME diffing"): unaffected joins and tokens are left
// untouched instead of being torn down and rebuilt.
func (eng *Engine) UpdateFact(id FactID, next *Fact) error {
	if err := eng.enter(); err != nil {
		return err
	}
	defer eng.leave()

	oldHandles, ok := eng.factWMEs[id]
	if !ok {
		return errors.Wrapf(ErrUnknownFact, "fact %d", id)
	}
	oldByContent := mapset.NewThreadUnsafeSet[string]()
	oldHandleByKey := make(map[string]WMEHandle, len(oldHandles))
	for _, h := range oldHandles {
		w := eng.wmeTable[h]
		key := w.Attr + "=" + w.Value.key()
		oldByContent.Add(key)
		oldHandleByKey[key] = h
	}

	next = next.clone()
	next.id = id
	newWMEs := decompose(id, next)
	newByContent := mapset.NewThreadUnsafeSet[string]()
	newWMEByKey := make(map[string]WME, len(newWMEs))
	for _, w := range newWMEs {
		key := w.Attr + "=" + w.Value.key()
		newByContent.Add(key)
		newWMEByKey[key] = w
	}

	toRemove := oldByContent.Difference(newByContent)
	toAdd := newByContent.Difference(oldByContent)

	keptHandles := make([]WMEHandle, 0, len(newWMEs))
	for _, h := range oldHandles {
		w := eng.wmeTable[h]
		key := w.Attr + "=" + w.Value.key()
		if toRemove.Contains(key) {
			eng.alpha.activateRemove(eng, w, h)
			delete(eng.wmeTable, h)
			continue
		}
		keptHandles = append(keptHandles, h)
	}
	for key := range toAdd.Iter() {
		w := newWMEByKey[key]
		eng.nextWMEHandle++
		h := WMEHandle(eng.nextWMEHandle)
		w.handle = h
		eng.wmeTable[h] = w
		keptHandles = append(keptHandles, h)
		eng.alpha.activateInsert(eng, w, h)
	}
	eng.factWMEs[id] = keptHandles
	eng.store.put(id, next)
	eng.logger.Debug("fact updated", zap.Int64("fact_id", int64(id)),
		zap.Int("removed", toRemove.Cardinality()), zap.Int("added", toAdd.Cardinality()))
	if eng.cfg.StrictMode {
		if err := eng.takePanic(); err != nil {
			return err
		}
	}
	return nil
}

// Fact returns the fact currently stored under id.
func (eng *Engine) Fact(id FactID) (*Fact, bool) {
	return eng.store.get(id)
}

// Facts returns every fact currently in working memory.
func (eng *Engine) Facts() []*Fact {
	return eng.store.all()
}

// AddProduction compiles cond/action into the network, returning the
// production's identifier. A failed compile leaves the network
// exactly as it was (spec §7).
func (eng *Engine) AddProduction(cond Condition, action Action) (ProductionID, error) {
	if err := eng.enter(); err != nil {
		return "", err
	}
	defer eng.leave()

	id := NewProductionID()
	prod, err := eng.compileProduction(id, cond, action)
	if err != nil {
		return "", err
	}
	eng.productions[id] = prod
	eng.logger.Debug("production added", zap.String("production_id", string(id)))
	return id, nil
}

// RemoveProduction does not tear down the alpha/beta nodes that were
// built for this production, even ones no other production shares
// (see AlphaMemory.refcount and DESIGN.md "Node lifetimes"): pruning a
// shared discrimination-tree node safely requires
// knowing no other production still depends on it, which is exactly
// what refcount tracks but this method does not act on. What it can
// safely do is stop the production from ever firing again and drop
// its live matches.
func (eng *Engine) RemoveProduction(id ProductionID) error {
	if err := eng.enter(); err != nil {
		return err
	}
	defer eng.leave()

	prod, ok := eng.productions[id]
	if !ok {
		return errors.Wrapf(ErrUnknownProduction, "production %s", id)
	}
	for tokID, m := range prod.node.matchByToken {
		eng.conflictSet.remove(m)
		delete(prod.node.matchByToken, tokID)
	}
	prod.node.prod = nil // disarm: LeftActivate on a stray late token is a no-op once prod is nil
	delete(eng.productions, id)
	eng.logger.Debug("production removed", zap.String("production_id", string(id)))
	return nil
}

// Matches returns every currently-live match, oldest first.
func (eng *Engine) Matches() []*Match {
	return eng.conflictSet.Matches()
}

// ActionContext is what a firing Action receives (spec §6): the
// match's bindings and the engine itself, so the action can assert,
// retract, or update facts.
type ActionContext struct {
	eng   *Engine
	match *Match
}

// Bindings returns the full binding environment of the match that
// fired.
func (ctx *ActionContext) Bindings() Env { return ctx.match.Env() }

// Bind looks up a single bound variable.
func (ctx *ActionContext) Bind(name VarName) (Value, bool) { return ctx.match.Env().Get(name) }

// Engine returns the engine the action is running inside of.
func (ctx *ActionContext) Engine() *Engine { return ctx.eng }

// Match returns the match that triggered this action.
func (ctx *ActionContext) Match() *Match { return ctx.match }

// Fire runs the production action of a specific conflict-set entry,
// chosen by the caller (spec §6: "Fire(match)"). Conflict resolution —
// which match to draw next — is a driver concern, not the core's
// (spec §1 excludes "the convenience run(n) loop"; §4.6 "Ordering"
// says drivers pick the first available match after quiescence); a
// driver typically calls eng.Matches() and fires matches[0].
//
// The action runs with the engine's non-reentrancy guard still held by
// the same goroutine, so it may freely call
// AddFact/RemoveFact/UpdateFact/AddProduction itself. Firing does not
// remove m from the conflict set: refraction is explicitly not
// provided by the core (spec §4.6, GLOSSARY); m stays live until the
// WMEs supporting it change.
func (eng *Engine) Fire(m *Match) error {
	if err := eng.enter(); err != nil {
		return err
	}
	defer eng.leave()

	if !eng.conflictSet.isLive(m) {
		return errors.Wrapf(ErrStaleMatch, "production %s", m.prod.id)
	}
	ctx := &ActionContext{eng: eng, match: m}
	return m.prod.action(ctx)
}

// Stats summarizes network size, for diagnostics and tests
// (spec §14, "Supplemented features").
type Stats struct {
	Facts       int
	Productions int
	Matches     int
	AlphaNodes  uint64
	BetaMemories uint64
}

// Stats reports current network size.
func (eng *Engine) Stats() Stats {
	return Stats{
		Facts:        len(eng.factWMEs),
		Productions:  len(eng.productions),
		Matches:      eng.conflictSet.Len(),
		AlphaNodes:   eng.alpha.nextNodeID,
		BetaMemories: eng.beta.nextMemID,
	}
}
