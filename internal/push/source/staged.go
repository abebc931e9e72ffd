package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/release-engineering/pulp-push/internal/push/item"
)

// metadataFile is the per-directory manifest of a staging area.
const metadataFile = "staged.yaml"

// Staged reads push items from staging directories. Each directory
// holds a staged.yaml manifest listing items, with src paths relative
// to the directory.
type Staged struct {
	dirs []string
}

func NewStaged(dirs ...string) *Staged {
	return &Staged{dirs: dirs}
}

type stagedManifest struct {
	Items []stagedItem `json:"items"`
}

type stagedItem struct {
	Kind         string   `json:"kind"`
	Name         string   `json:"name"`
	Src          string   `json:"src"`
	Dest         []string `json:"dest"`
	SHA256Sum    string   `json:"sha256sum"`
	SigningKey   string   `json:"signing_key"`
	Description  string   `json:"description"`
	Summary      string   `json:"summary"`
	Version      string   `json:"version"`
	DisplayOrder int32    `json:"display_order"`
}

func (s *Staged) Each(ctx context.Context, fn func(item.PushItem) error) error {
	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.eachInDir(dir, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Staged) eachInDir(dir string, fn func(item.PushItem) error) error {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return fmt.Errorf("reading staged metadata in %s: %w", dir, err)
	}

	var manifest stagedManifest
	if err := yaml.UnmarshalStrict(raw, &manifest); err != nil {
		return fmt.Errorf("parsing %s in %s: %w", metadataFile, dir, err)
	}

	for i, si := range manifest.Items {
		pi, err := s.pushItem(dir, si)
		if err != nil {
			return fmt.Errorf("%s in %s, item %d: %w", metadataFile, dir, i, err)
		}
		if err := fn(pi); err != nil {
			return err
		}
	}
	return nil
}

func (s *Staged) pushItem(dir string, si stagedItem) (item.PushItem, error) {
	kind := item.Kind(si.Kind)
	switch kind {
	case item.KindRPM, item.KindFile, item.KindErratum,
		item.KindModuleMd, item.KindCompsXml, item.KindProductID:
	default:
		return item.PushItem{}, fmt.Errorf("unsupported kind %q", si.Kind)
	}

	src := si.Src
	if src != "" && !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}

	name := si.Name
	if name == "" && src != "" {
		name = filepath.Base(src)
	}
	if name == "" {
		return item.PushItem{}, fmt.Errorf("item of kind %q has no name", si.Kind)
	}

	return item.PushItem{
		Kind:         kind,
		Name:         name,
		Src:          src,
		Dest:         si.Dest,
		SHA256Sum:    si.SHA256Sum,
		SigningKey:   si.SigningKey,
		State:        item.Pending,
		Description:  si.Description,
		Summary:      si.Summary,
		Version:      si.Version,
		DisplayOrder: si.DisplayOrder,
	}, nil
}
