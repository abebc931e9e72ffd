// Package fake provides an in-memory pulp.Client with full search, copy
// and publish semantics. It backs the test suite and `--pulp-url fake:`
// dry runs.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/release-engineering/pulp-push/pkg/pulp"
)

// Client is an in-memory implementation of pulp.Client.
//
// Repositories must be created up front with AddRepository. Content
// accumulates as uploads and copies are performed. All methods are safe
// for concurrent use.
type Client struct {
	mu sync.Mutex

	units map[string]pulp.Unit // keyed by unit identity
	repos map[string]*repoState

	uploadCount    int
	discardUploads bool
}

type repoState struct {
	id        string
	publishes int

	// metadata uploads which don't map to searchable units
	moduleUploads   int
	compsUploads    int
	metadataUploads map[string]int
}

func New() *Client {
	return &Client{
		units: map[string]pulp.Unit{},
		repos: map[string]*repoState{},
	}
}

// AddRepository creates an empty repository.
func (c *Client) AddRepository(ids ...string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if _, ok := c.repos[id]; !ok {
			c.repos[id] = &repoState{id: id, metadataUploads: map[string]int{}}
		}
	}
	return c
}

// AddUnit seeds a unit directly, bypassing upload.
func (c *Client) AddUnit(u pulp.Unit) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[identity(u)] = cloneUnit(u)
	return c
}

// DiscardUploads makes every upload report success without storing
// anything. Used to exercise confirmation failures.
func (c *Client) DiscardUploads(discard bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardUploads = discard
}

// UploadCount returns the number of unit uploads performed so far
// (module/comps/metadata uploads excluded).
func (c *Client) UploadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploadCount
}

// PublishCount returns how many times the given repository was published.
func (c *Client) PublishCount(repoID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.repos[repoID]; ok {
		return r.publishes
	}
	return 0
}

// ModuleUploadCount returns how many modulemd streams were uploaded into
// the given repository.
func (c *Client) ModuleUploadCount(repoID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.repos[repoID]; ok {
		return r.moduleUploads
	}
	return 0
}

// Units returns a snapshot of all stored units.
func (c *Client) Units() []pulp.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]pulp.Unit, 0, len(c.units))
	for _, u := range c.units {
		out = append(out, cloneUnit(u))
	}
	sort.Slice(out, func(i, j int) bool { return identity(out[i]) < identity(out[j]) })
	return out
}

func (c *Client) SearchContent(_ context.Context, crit *pulp.Criteria) ([]pulp.Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []pulp.Unit
	for _, u := range c.units {
		if crit.Matches(u) {
			out = append(out, cloneUnit(u))
		}
	}
	return out, nil
}

func (c *Client) SearchRepository(_ context.Context, crit *pulp.Criteria) ([]pulp.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for id := range c.repos {
		if crit.MatchesID(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]pulp.Repository, 0, len(ids))
	for _, id := range ids {
		out = append(out, &repository{client: c, id: id})
	}
	return out, nil
}

func (c *Client) GetRepository(_ context.Context, id string) (pulp.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.repos[id]; !ok {
		return nil, fmt.Errorf("%w: %s", pulp.ErrRepositoryNotFound, id)
	}
	return &repository{client: c, id: id}, nil
}

func (c *Client) CopyContent(_ context.Context, src, dest pulp.Repository, crit *pulp.Criteria, opts pulp.CopyOptions) ([]*pulp.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.repos[src.ID()]; !ok {
		return nil, fmt.Errorf("%w: %s", pulp.ErrRepositoryNotFound, src.ID())
	}
	if _, ok := c.repos[dest.ID()]; !ok {
		return nil, fmt.Errorf("%w: %s", pulp.ErrRepositoryNotFound, dest.ID())
	}

	var copied []pulp.Unit
	for key, u := range c.units {
		if !crit.Matches(u) || !contains(u.Memberships(), src.ID()) {
			continue
		}
		if opts.RequireSignedRPMs {
			if rpm, ok := u.(*pulp.RPMUnit); ok && rpm.SigningKey == "" {
				continue
			}
		}
		c.units[key] = withMembership(u, dest.ID())
		copied = append(copied, cloneUnit(c.units[key]))
	}

	task := &pulp.Task{ID: newTaskID(), Units: copied}
	return []*pulp.Task{task}, nil
}

func (c *Client) UpdateContent(_ context.Context, unit pulp.Unit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := identity(unit)
	stored, ok := c.units[key]
	if !ok {
		return fmt.Errorf("pulp: no such unit: %s", key)
	}

	// Memberships are never changed through UpdateContent.
	updated := cloneUnit(unit)
	setMemberships(updated, stored.Memberships())
	c.units[key] = updated
	return nil
}

type repository struct {
	client *Client
	id     string
}

func (r *repository) ID() string { return r.id }

func (r *repository) UploadRPM(_ context.Context, src string, opts pulp.UploadRPMOptions) (*pulp.Task, error) {
	sum, err := fileSHA256(src)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(src)
	unit := &pulp.RPMUnit{
		UnitID:                newTaskID(),
		Name:                  name,
		SHA256Sum:             sum,
		SigningKey:            opts.SigningKey,
		CdnPath:               opts.CdnPath,
		RepositoryMemberships: []string{r.id},
	}
	return r.client.storeUpload(unit)
}

func (r *repository) UploadFile(_ context.Context, src string, opts pulp.UploadFileOptions) (*pulp.Task, error) {
	sum, err := fileSHA256(src)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}

	unit := &pulp.FileUnit{
		UnitID:                newTaskID(),
		Path:                  opts.RelativeURL,
		SHA256Sum:             sum,
		Size:                  info.Size(),
		Description:           opts.Description,
		Version:               opts.Version,
		DisplayOrder:          opts.DisplayOrder,
		CdnPath:               opts.CdnPath,
		CdnPublished:          opts.CdnPublished,
		RepositoryMemberships: []string{r.id},
	}
	return r.client.storeUpload(unit)
}

func (r *repository) UploadErratum(_ context.Context, unit *pulp.ErratumUnit) (*pulp.Task, error) {
	stored := *unit
	stored.UnitID = newTaskID()
	stored.RepositoryMemberships = []string{r.id}
	return r.client.storeUpload(&stored)
}

func (r *repository) UploadComps(_ context.Context, src string) (*pulp.Task, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, err
	}
	r.client.mu.Lock()
	defer r.client.mu.Unlock()
	r.client.repos[r.id].compsUploads++
	return &pulp.Task{ID: newTaskID()}, nil
}

func (r *repository) UploadModules(_ context.Context, src string) (*pulp.Task, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, err
	}
	r.client.mu.Lock()
	defer r.client.mu.Unlock()
	r.client.repos[r.id].moduleUploads++
	return &pulp.Task{ID: newTaskID()}, nil
}

func (r *repository) UploadMetadata(_ context.Context, src string, metadataType string) (*pulp.Task, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, err
	}
	r.client.mu.Lock()
	defer r.client.mu.Unlock()
	r.client.repos[r.id].metadataUploads[metadataType]++
	return &pulp.Task{ID: newTaskID()}, nil
}

func (r *repository) Publish(_ context.Context, _ pulp.PublishOptions) ([]*pulp.Task, error) {
	r.client.mu.Lock()
	defer r.client.mu.Unlock()
	r.client.repos[r.id].publishes++
	return []*pulp.Task{{ID: newTaskID()}}, nil
}

// storeUpload records an uploaded unit, merging with an existing unit of
// the same identity (uploading existing content adds a membership rather
// than duplicating the unit).
func (c *Client) storeUpload(unit pulp.Unit) (*pulp.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.uploadCount++
	if c.discardUploads {
		return &pulp.Task{ID: newTaskID()}, nil
	}

	key := identity(unit)
	if existing, ok := c.units[key]; ok {
		merged := cloneUnit(unit)
		memberships := existing.Memberships()
		for _, m := range unit.Memberships() {
			if !contains(memberships, m) {
				memberships = append(memberships, m)
			}
		}
		setMemberships(merged, memberships)
		c.units[key] = merged
	} else {
		c.units[key] = cloneUnit(unit)
	}

	return &pulp.Task{ID: newTaskID(), Units: []pulp.Unit{cloneUnit(c.units[key])}}, nil
}

func identity(u pulp.Unit) string {
	switch u := u.(type) {
	case *pulp.RPMUnit:
		return "rpm:" + u.SHA256Sum
	case *pulp.FileUnit:
		return "iso:" + u.Path + ":" + u.SHA256Sum
	case *pulp.ErratumUnit:
		return "erratum:" + u.ID
	}
	panic(fmt.Sprintf("BUG: unknown unit type %T", u))
}

func cloneUnit(u pulp.Unit) pulp.Unit {
	switch u := u.(type) {
	case *pulp.RPMUnit:
		out := *u
		out.RepositoryMemberships = append([]string(nil), u.RepositoryMemberships...)
		return &out
	case *pulp.FileUnit:
		out := *u
		out.RepositoryMemberships = append([]string(nil), u.RepositoryMemberships...)
		return &out
	case *pulp.ErratumUnit:
		out := *u
		out.RepositoryMemberships = append([]string(nil), u.RepositoryMemberships...)
		return &out
	}
	panic(fmt.Sprintf("BUG: unknown unit type %T", u))
}

func setMemberships(u pulp.Unit, memberships []string) {
	sorted := append([]string(nil), memberships...)
	sort.Strings(sorted)
	switch u := u.(type) {
	case *pulp.RPMUnit:
		u.RepositoryMemberships = sorted
	case *pulp.FileUnit:
		u.RepositoryMemberships = sorted
	case *pulp.ErratumUnit:
		u.RepositoryMemberships = sorted
	}
}

func withMembership(u pulp.Unit, repoID string) pulp.Unit {
	if contains(u.Memberships(), repoID) {
		return u
	}
	out := cloneUnit(u)
	setMemberships(out, append(u.Memberships(), repoID))
	return out
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return strings.ToLower(hex.EncodeToString(h.Sum(nil))), nil
}

func newTaskID() string {
	return ulid.Make().String()
}
