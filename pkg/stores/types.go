package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by the store. Callers match with errors.Is.
var (
	// ErrNotFound indicates the requested row does not exist (or is
	// soft-deleted, for resource lookups).
	ErrNotFound = errors.New("not found")

	// ErrDuplicateOperation indicates an operation ID is already in use.
	ErrDuplicateOperation = errors.New("duplicate operation id")

	// ErrInvalidResourceID indicates a malformed resource ID was rejected
	// before persistence.
	ErrInvalidResourceID = errors.New("invalid resource id")
)

// DependencyType classifies how hard a dependency edge is.
type DependencyType string

const (
	DependencyRequired  DependencyType = "required"
	DependencyOptional  DependencyType = "optional"
	DependencyReference DependencyType = "reference"
)

// Relationship describes the semantic link a dependency edge asserts.
type Relationship string

const (
	RelationshipUses       Relationship = "uses"
	RelationshipContains   Relationship = "contains"
	RelationshipReferences Relationship = "references"
	RelationshipPeersWith  Relationship = "peers-with"
)

// OperationStatus represents the lifecycle state of an operation.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
	OperationBlocked   OperationStatus = "blocked"
)

// IsTerminal reports whether the status is an end state.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationFailed || s == OperationBlocked
}

// LogLevel is the severity of an operation log line.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Resource is a discovered cloud object tracked by the store.
type Resource struct {
	// ResourceID is the hierarchical ARM path string, the primary key.
	ResourceID string `json:"resource_id"`

	// ResourceType is the provider/kind taxonomy string.
	ResourceType string `json:"resource_type"`

	Name          string `json:"name"`
	ResourceGroup string `json:"resource_group"`
	Location      string `json:"location"`

	// Properties is the opaque structured payload from the provider.
	Properties json.RawMessage `json:"properties"`

	ProvisioningState string `json:"provisioning_state"`

	// ManagedByToolkit marks resources the toolkit created or adopted.
	ManagedByToolkit bool `json:"managed_by_toolkit"`

	CreatedAt       *time.Time `json:"created_at,omitempty"`
	AdoptedAt       *time.Time `json:"adopted_at,omitempty"`
	DiscoveredAt    time.Time  `json:"discovered_at"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`

	// CacheExpiresAt governs whether this row may be served without
	// re-querying the provider.
	CacheExpiresAt time.Time `json:"cache_expires_at"`

	// DeletedAt marks the row soft-deleted; such rows are excluded from
	// all active reads but retained for audit.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// CacheFresh reports whether the row may be served from cache at now.
func (r *Resource) CacheFresh(now time.Time) bool {
	return r.CacheExpiresAt.After(now)
}

// Dependency is a directed, typed edge between two resources.
type Dependency struct {
	ResourceID          string         `json:"resource_id"`
	DependsOnResourceID string         `json:"depends_on_resource_id"`
	DependencyType      DependencyType `json:"dependency_type"`
	Relationship        Relationship   `json:"relationship"`
	DiscoveredAt        time.Time      `json:"discovered_at"`
	ValidatedAt         *time.Time     `json:"validated_at,omitempty"`
}

// Operation is one execution attempt of a declarative action.
type Operation struct {
	OperationID   string          `json:"operation_id"`
	Capability    string          `json:"capability"`
	OperationName string          `json:"operation_name"`
	OperationType string          `json:"operation_type"`
	ResourceID    *string         `json:"resource_id,omitempty"`
	Status        OperationStatus `json:"status"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`

	// Duration is computed when the operation reaches a terminal state.
	Duration time.Duration `json:"duration"`

	CurrentStep     int     `json:"current_step"`
	TotalSteps      int     `json:"total_steps"`
	StepDescription string  `json:"step_description"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// OperationLog is one structured log line attached to an operation.
type OperationLog struct {
	ID          int64     `json:"id"`
	OperationID string    `json:"operation_id"`
	Level       LogLevel  `json:"level"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stats aggregates observability counts over the store.
type Stats struct {
	ActiveResources   int `json:"active_resources"`
	DeletedResources  int `json:"deleted_resources"`
	ManagedResources  int `json:"managed_resources"`
	DependencyEdges   int `json:"dependency_edges"`
	Operations        int `json:"operations"`
	RunningOperations int `json:"running_operations"`
	FailedOperations  int `json:"failed_operations"`
}

// Store is the persistence contract shared by all components.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Resources
	UpsertResource(ctx context.Context, r *Resource, ttl time.Duration) error
	GetResource(ctx context.Context, resourceType, name, group string) (*Resource, error)
	GetResourceByID(ctx context.Context, id string) (*Resource, error)
	GetResourceHistory(ctx context.Context, id string) (*Resource, error)
	ListResources(ctx context.Context, resourceType, group string) ([]*Resource, error)
	MarkManaged(ctx context.Context, id string) error
	MarkCreated(ctx context.Context, id string) error
	SoftDeleteResource(ctx context.Context, id string) error
	InvalidateResources(ctx context.Context, pattern string) (int64, error)
	PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error)

	// Dependencies
	UpsertDependency(ctx context.Context, d *Dependency) error
	ListDependenciesFrom(ctx context.Context, resourceID string) ([]*Dependency, error)
	ListDependenciesTo(ctx context.Context, resourceID string) ([]*Dependency, error)
	ListAllDependencies(ctx context.Context) ([]*Dependency, error)

	// Operations
	CreateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
	UpdateOperationStatus(ctx context.Context, id string, status OperationStatus, errMsg *string) error
	UpdateOperationProgress(ctx context.Context, id string, current, total int, description string) error
	ListOperations(ctx context.Context, status OperationStatus, limit, offset int) ([]*Operation, error)
	AppendOperationLog(ctx context.Context, log *OperationLog) error
	ListOperationLogs(ctx context.Context, operationID string) ([]*OperationLog, error)

	// List-query cache bookkeeping
	QueryCachePut(ctx context.Context, key string, ttl time.Duration) error
	QueryCacheFresh(ctx context.Context, key string) (bool, error)
	QueryCacheClear(ctx context.Context) (int64, error)

	// Observability
	Stats(ctx context.Context) (*Stats, error)
}
