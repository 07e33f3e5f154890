// Package migration upgrades versioned documents through registered chains of
// pure transformation steps.
//
// Each data type owns an independent chain. A version has at most one outgoing
// migration, so a path from one version to another is a linear walk over the
// chain. Registration rejects ambiguous chains; Verify checks at startup that
// every historical version reaches the current one.
package migration

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// MaxHops bounds a single migration walk.
const MaxHops = 20

// Document is a loosely typed JSON document.
type Document = map[string]any

// Migration transforms a document of version From into version To.
// Transform must be pure; Validate, if set, checks the transformed document.
type Migration struct {
	From        string
	To          string
	Description string
	Transform   func(Document) (Document, error)
	Validate    func(Document) error
}

// Step records one applied migration.
type Step struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Description string `json:"description"`
}

// Result is the outcome of Migrate. On failure Document is nil and
// AppliedSteps lists the steps that completed before the failing one.
type Result struct {
	Success      bool
	Document     Document
	Err          error
	AppliedSteps []Step
}

var (
	// ErrDuplicateMigration is returned when a data type already has a migration from a version.
	ErrDuplicateMigration = errors.New("duplicate migration")
	// ErrInvalidMigration is returned for malformed migration definitions.
	ErrInvalidMigration = errors.New("invalid migration")
	// ErrNoMigrationPath is returned when no chain connects two versions.
	ErrNoMigrationPath = errors.New("no migration path")
	// ErrMigrationCycle is returned when a walk exceeds MaxHops.
	ErrMigrationCycle = errors.New("migration hop limit exceeded")
	// ErrTransformFailed wraps errors returned by Transform.
	ErrTransformFailed = errors.New("migration transform failed")
	// ErrStepValidation wraps errors returned by Validate.
	ErrStepValidation = errors.New("migration step validation failed")
)

// IsConfigError reports whether err stems from a broken chain definition
// rather than from the document being migrated. Such errors are not retryable.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrDuplicateMigration) ||
		errors.Is(err, ErrInvalidMigration) ||
		errors.Is(err, ErrMigrationCycle)
}

// Engine holds the migration chains of every data type. It is safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	chains map[string]map[string]Migration
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{chains: make(map[string]map[string]Migration)}
}

// Register adds migrations to the chain of dataType. Either all migrations are
// added or none.
func (e *Engine) Register(dataType string, migrations ...Migration) error {
	if dataType == "" {
		return fmt.Errorf("%w: empty data type", ErrInvalidMigration)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	chain := e.chains[dataType]
	staged := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		if err := checkMigration(m); err != nil {
			return fmt.Errorf("%s %s->%s: %w", dataType, m.From, m.To, err)
		}
		if _, ok := chain[m.From]; ok {
			return fmt.Errorf("%w: %s already migrates from %s", ErrDuplicateMigration, dataType, m.From)
		}
		if _, ok := staged[m.From]; ok {
			return fmt.Errorf("%w: %s already migrates from %s", ErrDuplicateMigration, dataType, m.From)
		}
		staged[m.From] = m
	}
	if chain == nil {
		chain = make(map[string]Migration, len(staged))
		e.chains[dataType] = chain
	}
	for from, m := range staged {
		chain[from] = m
	}
	return nil
}

// MustRegister is like Register but panics on error. Use it for startup wiring.
func (e *Engine) MustRegister(dataType string, migrations ...Migration) {
	if err := e.Register(dataType, migrations...); err != nil {
		panic(err)
	}
}

func checkMigration(m Migration) error {
	if m.Transform == nil {
		return fmt.Errorf("%w: nil transform", ErrInvalidMigration)
	}
	from, err := semver.StrictNewVersion(m.From)
	if err != nil {
		return fmt.Errorf("%w: from version: %v", ErrInvalidMigration, err)
	}
	to, err := semver.StrictNewVersion(m.To)
	if err != nil {
		return fmt.Errorf("%w: to version: %v", ErrInvalidMigration, err)
	}
	if from.Equal(to) {
		return fmt.Errorf("%w: from equals to", ErrInvalidMigration)
	}
	return nil
}

// Verify checks the chain of dataType against its current version: every
// registered version must reach current within MaxHops, and nothing may
// migrate away from current.
func (e *Engine) Verify(dataType, current string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	chain := e.chains[dataType]
	if _, ok := chain[current]; ok {
		return fmt.Errorf("%w: %s migrates away from current version %s", ErrInvalidMigration, dataType, current)
	}
	for from := range chain {
		v := from
		hops := 0
		for v != current {
			m, ok := chain[v]
			if !ok {
				return fmt.Errorf("%w: %s version %s dead-ends at %s before %s", ErrInvalidMigration, dataType, from, v, current)
			}
			hops++
			if hops > MaxHops {
				return fmt.Errorf("%w: %s from %s", ErrMigrationCycle, dataType, from)
			}
			v = m.To
		}
	}
	return nil
}

// Versions returns every version known to the chain of dataType, sorted by semver.
func (e *Engine) Versions(dataType string) []string {
	e.mu.RLock()
	seen := make(map[string]struct{})
	for from, m := range e.chains[dataType] {
		seen[from] = struct{}{}
		seen[m.To] = struct{}{}
	}
	e.mu.RUnlock()

	versions := make([]*semver.Version, 0, len(seen))
	for v := range seen {
		// registered versions were parsed on Register.
		versions = append(versions, semver.MustParse(v))
	}
	sort.Sort(semver.Collection(versions))
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.Original()
	}
	return out
}

// Migrate transforms doc from version from to version to. The input document is
// never modified. When from equals to the input is returned as is.
func (e *Engine) Migrate(dataType string, doc Document, from, to string) Result {
	if from == to {
		return Result{Success: true, Document: doc}
	}

	e.mu.RLock()
	chain := e.chains[dataType]
	e.mu.RUnlock()

	current := DeepCopy(doc)
	version := from
	var steps []Step
	for version != to {
		if len(steps) >= MaxHops {
			return failed(steps, fmt.Errorf("%w: %s %s->%s after %d steps", ErrMigrationCycle, dataType, from, to, len(steps)))
		}
		m, ok := chain[version]
		if !ok {
			return failed(steps, fmt.Errorf("%w: %s from %s to %s (stuck at %s)", ErrNoMigrationPath, dataType, from, to, version))
		}
		next, err := m.Transform(current)
		if err != nil {
			return failed(steps, fmt.Errorf("%w: %s %s->%s: %w", ErrTransformFailed, dataType, m.From, m.To, err))
		}
		if next == nil {
			return failed(steps, fmt.Errorf("%w: %s %s->%s returned nil", ErrTransformFailed, dataType, m.From, m.To))
		}
		if m.Validate != nil {
			if err := m.Validate(next); err != nil {
				return failed(steps, fmt.Errorf("%w: %s %s->%s: %w", ErrStepValidation, dataType, m.From, m.To, err))
			}
		}
		steps = append(steps, Step{From: m.From, To: m.To, Description: m.Description})
		current = next
		version = m.To
	}
	return Result{Success: true, Document: current, AppliedSteps: steps}
}

func failed(steps []Step, err error) Result {
	return Result{Err: err, AppliedSteps: steps}
}
