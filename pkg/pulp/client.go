package pulp

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRepositoryNotFound is returned by GetRepository for unknown repo IDs.
	ErrRepositoryNotFound = errors.New("pulp: repository not found")
)

// TaskFailedError indicates a Pulp task which completed unsuccessfully.
type TaskFailedError struct {
	TaskID string
	Reason string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("pulp: task %s failed: %s", e.TaskID, e.Reason)
}

// Task is the completed result of an asynchronous Pulp operation.
type Task struct {
	ID string

	// Units affected by the task, where the operation reports them
	// (e.g. units copied by an associate task).
	Units []Unit
}

// CopyOptions adjust the behavior of content association.
type CopyOptions struct {
	// RequireSignedRPMs makes the copy refuse unsigned RPMs.
	RequireSignedRPMs bool
}

// PublishOptions adjust the behavior of repository publishes.
type PublishOptions struct {
	Force bool
	Clean bool
}

// UploadRPMOptions carries metadata set at RPM upload time.
type UploadRPMOptions struct {
	CdnPath    string
	SigningKey string
}

// UploadFileOptions carries metadata set at file upload time.
type UploadFileOptions struct {
	RelativeURL  string
	Description  string
	Version      string
	DisplayOrder int32
	CdnPath      string

	// CdnPublished is carried across from an existing unit on reupload
	// (relevant only for orphans). nil means unset.
	CdnPublished *bool
}

// Repository is a handle to a single Pulp repository.
//
// Every mutation is asynchronous on the Pulp side; the methods here block
// until the spawned task(s) complete and return the completed tasks.
type Repository interface {
	ID() string

	UploadRPM(ctx context.Context, src string, opts UploadRPMOptions) (*Task, error)
	UploadFile(ctx context.Context, src string, opts UploadFileOptions) (*Task, error)
	UploadErratum(ctx context.Context, unit *ErratumUnit) (*Task, error)

	// UploadComps uploads a comps.xml, replacing the repo's package groups.
	UploadComps(ctx context.Context, src string) (*Task, error)

	// UploadModules uploads a modulemd YAML stream.
	UploadModules(ctx context.Context, src string) (*Task, error)

	// UploadMetadata uploads a typed metadata file (e.g. productid).
	UploadMetadata(ctx context.Context, src string, metadataType string) (*Task, error)

	// Publish makes the repository's current content visible to consumers.
	Publish(ctx context.Context, opts PublishOptions) ([]*Task, error)
}

// Client is the remote Pulp service.
//
// A Client bounds its own request concurrency internally, so it may be
// shared between pipeline stages.
type Client interface {
	SearchContent(ctx context.Context, crit *Criteria) ([]Unit, error)
	SearchRepository(ctx context.Context, crit *Criteria) ([]Repository, error)
	GetRepository(ctx context.Context, id string) (Repository, error)

	// CopyContent associates units matching crit from src into dest
	// without re-uploading bytes.
	CopyContent(ctx context.Context, src, dest Repository, crit *Criteria, opts CopyOptions) ([]*Task, error)

	// UpdateContent replaces the mutable fields of an existing unit.
	UpdateContent(ctx context.Context, unit Unit) error
}
