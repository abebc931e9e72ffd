package pulphttp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/release-engineering/pulp-push/pkg/pulp"
)

type repository struct {
	client *Client
	id     string
}

var _ pulp.Repository = (*repository)(nil)

func (r *repository) ID() string { return r.id }

func (r *repository) UploadRPM(ctx context.Context, src string, opts pulp.UploadRPMOptions) (*pulp.Task, error) {
	metadata := map[string]any{}
	if opts.CdnPath != "" {
		metadata["pulp_user_metadata"] = map[string]any{"cdn_path": opts.CdnPath}
	}
	// The unit key is computed server-side from the uploaded RPM headers.
	return r.client.uploadRequest(ctx, r.id, "rpm", src, map[string]any{}, metadata)
}

func (r *repository) UploadFile(ctx context.Context, src string, opts pulp.UploadFileOptions) (*pulp.Task, error) {
	userMetadata := map[string]any{
		"description":   opts.Description,
		"version":       opts.Version,
		"display_order": opts.DisplayOrder,
	}
	if opts.CdnPath != "" {
		userMetadata["cdn_path"] = opts.CdnPath
	}
	if opts.CdnPublished != nil {
		userMetadata["cdn_published"] = *opts.CdnPublished
	}

	unitKey := map[string]any{"name": opts.RelativeURL}
	metadata := map[string]any{"pulp_user_metadata": userMetadata}
	return r.client.uploadRequest(ctx, r.id, "iso", src, unitKey, metadata)
}

func (r *repository) UploadErratum(ctx context.Context, unit *pulp.ErratumUnit) (*pulp.Task, error) {
	unitKey := map[string]any{"id": unit.ID}
	metadata := map[string]any{
		"version":     unit.Version,
		"title":       unit.Summary,
		"description": unit.Description,
	}
	return r.client.uploadRequest(ctx, r.id, "erratum", "", unitKey, metadata)
}

func (r *repository) UploadComps(ctx context.Context, src string) (*pulp.Task, error) {
	return r.client.uploadRequest(ctx, r.id, "package_group", src, map[string]any{}, map[string]any{})
}

func (r *repository) UploadModules(ctx context.Context, src string) (*pulp.Task, error) {
	return r.client.uploadRequest(ctx, r.id, "modulemd", src, map[string]any{}, map[string]any{})
}

func (r *repository) UploadMetadata(ctx context.Context, src string, metadataType string) (*pulp.Task, error) {
	unitKey := map[string]any{"data_type": metadataType, "repo_id": r.id}
	return r.client.uploadRequest(ctx, r.id, "yum_repo_metadata_file", src, unitKey, map[string]any{})
}

func (r *repository) Publish(ctx context.Context, opts pulp.PublishOptions) ([]*pulp.Task, error) {
	// Publish through every distributor attached to the repo.
	var doc struct {
		Distributors []struct {
			ID string `json:"id"`
		} `json:"distributors"`
	}
	path := fmt.Sprintf("%s/repositories/%s/?distributors=true", apiPrefix, r.id)
	if err := r.client.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return nil, err
	}

	var out []*pulp.Task
	for _, dist := range doc.Distributors {
		body := map[string]any{"id": dist.ID}
		if opts.Force || opts.Clean {
			body["override_config"] = map[string]any{
				"force_full": opts.Force,
				"clean":      opts.Clean,
			}
		}

		var resp spawnedTasks
		path := fmt.Sprintf("%s/repositories/%s/actions/publish/", apiPrefix, r.id)
		if err := r.client.do(ctx, http.MethodPost, path, body, &resp); err != nil {
			return nil, err
		}
		tasks, err := r.client.awaitTasks(ctx, resp)
		if err != nil {
			return nil, err
		}
		out = append(out, tasks...)
	}
	return out, nil
}
