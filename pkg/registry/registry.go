// Package registry owns the collection of registered service records: the
// two-stage registration lifecycle, name uniqueness, and lookups used by
// routing.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	coordinatorerrors "github.com/r3e-network/coordinator/infrastructure/errors"
	"github.com/r3e-network/coordinator/infrastructure/httputil"
)

// Status is the lifecycle state of a ServiceRecord.
type Status string

const (
	StatusPendingMigration Status = "pending_migration"
	StatusActive           Status = "active"
	StatusInactive         Status = "inactive"
)

// ManifestEndpoint describes one API endpoint exposed by a service.
type ManifestEndpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description,omitempty"`
}

// Manifest is the service's self-described API/event/schema document,
// uploaded at stage 2.
type Manifest struct {
	Endpoints []ManifestEndpoint `json:"endpoints,omitempty"`
	Events    []string           `json:"events,omitempty"`
	Tables    []string           `json:"tables,omitempty"`
	Schemas   map[string]string  `json:"schemas,omitempty"`
}

// ServiceRecord is one registered backend.
type ServiceRecord struct {
	ID              string
	Name            string
	Version         string
	Endpoint        string
	HealthPath      string
	Status          Status
	Capabilities    []string
	SupportsRPC     bool
	Manifest        *Manifest
	RegisteredAt    time.Time
	LastHealthCheck *time.Time
}

// IndexRebuilder is notified whenever an active record's routable content
// changes, so the KeywordIndex can recompute its token set.
type IndexRebuilder interface {
	Rebuild(snapshot []ServiceRecord)
}

// ChangeRecorder is notified of every successful registry mutation.
type ChangeRecorder interface {
	Record(eventType, source string, details map[string]interface{})
}

type noopRebuilder struct{}

func (noopRebuilder) Rebuild([]ServiceRecord) {}

type noopRecorder struct{}

func (noopRecorder) Record(string, string, map[string]interface{}) {}

// Store is the optional persistence backend for registered_services. When
// nil, the Registry keeps state purely in-process.
type Store interface {
	Save(record ServiceRecord) error
	DeleteAll() error
	LoadAll() ([]ServiceRecord, error)
}

// Filter narrows List results.
type Filter struct {
	OnlyActive bool
	ByName     string
}

// Registry owns the ServiceRecord collection exclusively. All mutations are
// synchronized; reads take a consistent snapshot and release the lock.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]ServiceRecord
	index    IndexRebuilder
	recorder ChangeRecorder
	store    Store
}

// New creates a Registry. index and recorder may be nil, in which case
// mutations are observed by no-ops.
func New(index IndexRebuilder, recorder ChangeRecorder, store Store) *Registry {
	if index == nil {
		index = noopRebuilder{}
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	r := &Registry{
		records:  make(map[string]ServiceRecord),
		index:    index,
		recorder: recorder,
		store:    store,
	}
	if store != nil {
		if loaded, err := store.LoadAll(); err == nil {
			for _, rec := range loaded {
				r.records[rec.ID] = rec
			}
		}
	}
	return r
}

// Register creates a new record in pending_migration. Fails NameConflict if
// any non-inactive record already holds the name.
func (r *Registry) Register(name, version, endpoint, healthPath string, capabilities []string) (ServiceRecord, error) {
	name = strings.TrimSpace(name)
	if healthPath == "" {
		healthPath = "/health"
	}

	if err := validateName(name); err != nil {
		return ServiceRecord{}, err
	}
	normalizedEndpoint, err := validateEndpoint(endpoint)
	if err != nil {
		return ServiceRecord{}, err
	}
	endpoint = normalizedEndpoint

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.records {
		if existing.Name == name && existing.Status != StatusInactive {
			return ServiceRecord{}, coordinatorerrors.NameConflict(name)
		}
	}

	record := ServiceRecord{
		ID:           uuid.New().String(),
		Name:         name,
		Version:      version,
		Endpoint:     endpoint,
		HealthPath:   healthPath,
		Status:       StatusPendingMigration,
		Capabilities: capabilities,
		RegisteredAt: time.Now().UTC(),
	}

	r.records[record.ID] = record
	r.persist(record)
	r.recorder.Record("registry.register", "registry", map[string]interface{}{
		"id":   record.ID,
		"name": record.Name,
	})

	return record, nil
}

// CompleteMigration uploads a manifest and transitions the record to active.
// Re-submitting an identical manifest is idempotent: no changelog duplicate,
// no status flap.
func (r *Registry) CompleteMigration(id string, manifest Manifest) (ServiceRecord, error) {
	if err := validateManifest(manifest); err != nil {
		return ServiceRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return ServiceRecord{}, coordinatorerrors.NotFound("service", id)
	}

	alreadyIdentical := record.Status == StatusActive && record.Manifest != nil && manifestsEqual(*record.Manifest, manifest)

	record.Manifest = &manifest
	record.Status = StatusActive
	r.records[id] = record
	r.persist(record)

	if !alreadyIdentical {
		r.recorder.Record("registry.completeMigration", "registry", map[string]interface{}{
			"id":   record.ID,
			"name": record.Name,
		})
	}

	r.index.Rebuild(r.activeSnapshotLocked())

	return record, nil
}

// List returns an immutable, ordered-by-registeredAt-ascending snapshot.
func (r *Registry) List(filter Filter) []ServiceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceRecord, 0, len(r.records))
	for _, rec := range r.records {
		if filter.OnlyActive && rec.Status != StatusActive {
			continue
		}
		if filter.ByName != "" && rec.Name != filter.ByName {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})

	return out
}

// GetByName returns the first non-inactive record with the given name.
func (r *Registry) GetByName(name string) (ServiceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.Name == name && rec.Status != StatusInactive {
			return rec, true
		}
	}
	return ServiceRecord{}, false
}

// Deactivate transitions an active record to inactive, used by the health
// monitor and explicit deregistration. It never touches pending_migration
// records.
func (r *Registry) Deactivate(id string) (ServiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return ServiceRecord{}, coordinatorerrors.NotFound("service", id)
	}
	if record.Status == StatusPendingMigration {
		return record, nil
	}

	record.Status = StatusInactive
	r.records[id] = record
	r.persist(record)

	r.recorder.Record("registry.deactivate", "registry", map[string]interface{}{
		"id":   record.ID,
		"name": record.Name,
	})

	r.index.Rebuild(r.activeSnapshotLocked())
	return record, nil
}

// MarkHealthChecked records the timestamp of the most recent health probe.
func (r *Registry) MarkHealthChecked(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return
	}
	record.LastHealthCheck = &at
	r.records[id] = record
}

// DeleteAll clears the registry (admin/test utility) and returns the count
// of removed records.
func (r *Registry) DeleteAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.records)
	r.records = make(map[string]ServiceRecord)
	if r.store != nil {
		_ = r.store.DeleteAll()
	}

	r.recorder.Record("registry.deleteAll", "registry", map[string]interface{}{
		"count": count,
	})
	r.index.Rebuild(nil)

	return count
}

func (r *Registry) activeSnapshotLocked() []ServiceRecord {
	out := make([]ServiceRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Status == StatusActive {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

func (r *Registry) persist(record ServiceRecord) {
	if r.store == nil {
		return
	}
	_ = r.store.Save(record)
}

func validateName(name string) error {
	if name == "" {
		return coordinatorerrors.InvalidManifest("name must not be empty")
	}
	if len(name) > 128 {
		return coordinatorerrors.InvalidManifest("name must be at most 128 characters")
	}
	return nil
}

// validateEndpoint normalizes and validates a registered service's endpoint
// through the same base-URL helper the outbound transport clients use,
// rather than re-deriving the scheme/host checks against net/url directly.
func validateEndpoint(endpoint string) (string, error) {
	normalized, _, err := httputil.NormalizeBaseURL(endpoint, httputil.BaseURLOptions{})
	if err != nil {
		return "", coordinatorerrors.InvalidURL(endpoint)
	}
	return normalized, nil
}

func validateManifest(manifest Manifest) error {
	for _, ep := range manifest.Endpoints {
		if strings.TrimSpace(ep.Path) == "" || strings.TrimSpace(ep.Method) == "" {
			return coordinatorerrors.InvalidManifest("endpoint path and method are required")
		}
	}
	return nil
}

func manifestsEqual(a, b Manifest) bool {
	if len(a.Endpoints) != len(b.Endpoints) || len(a.Events) != len(b.Events) || len(a.Tables) != len(b.Tables) {
		return false
	}
	for i := range a.Endpoints {
		if a.Endpoints[i] != b.Endpoints[i] {
			return false
		}
	}
	for i := range a.Events {
		if a.Events[i] != b.Events[i] {
			return false
		}
	}
	for i := range a.Tables {
		if a.Tables[i] != b.Tables[i] {
			return false
		}
	}
	if len(a.Schemas) != len(b.Schemas) {
		return false
	}
	for k, v := range a.Schemas {
		if b.Schemas[k] != v {
			return false
		}
	}
	return true
}
