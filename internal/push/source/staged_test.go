package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/release-engineering/pulp-push/internal/push/item"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFile), []byte(content), 0o600))
}

func loadAll(t *testing.T, src Source) []item.PushItem {
	t.Helper()
	var out []item.PushItem
	require.NoError(t, src.Each(context.Background(), func(pi item.PushItem) error {
		out = append(out, pi)
		return nil
	}))
	return out
}

func TestStaged(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
items:
  - kind: rpm
    src: RPMS/bash-5.0-1.el8.x86_64.rpm
    dest: [repo-a, repo-b]
    signing_key: abcdef01
  - kind: erratum
    name: RHSA-2023:0001
    dest: [repo-a]
    summary: fixes things
    version: "2"
`)

	items := loadAll(t, NewStaged(dir))
	require.Len(t, items, 2)

	rpm := items[0]
	require.Equal(t, item.KindRPM, rpm.Kind)
	require.Equal(t, "bash-5.0-1.el8.x86_64.rpm", rpm.Name)
	require.Equal(t, filepath.Join(dir, "RPMS/bash-5.0-1.el8.x86_64.rpm"), rpm.Src)
	require.Equal(t, []string{"repo-a", "repo-b"}, rpm.Dest)
	require.Equal(t, "abcdef01", rpm.SigningKey)
	require.Equal(t, item.Pending, rpm.State)

	erratum := items[1]
	require.Equal(t, item.KindErratum, erratum.Kind)
	require.Equal(t, "RHSA-2023:0001", erratum.Name)
	require.Empty(t, erratum.Src)
	require.Equal(t, "2", erratum.Version)
}

func TestStagedErrors(t *testing.T) {
	tests := map[string]struct {
		manifest string
		want     string
	}{
		"unknown kind": {
			manifest: "items:\n  - kind: floppy\n    name: x\n",
			want:     "unsupported kind",
		},
		"no name": {
			manifest: "items:\n  - kind: erratum\n",
			want:     "has no name",
		},
		"unknown field": {
			manifest: "items:\n  - kind: rpm\n    nmae: typo.rpm\n",
			want:     "parsing",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tc.manifest)

			err := NewStaged(dir).Each(context.Background(), func(item.PushItem) error {
				return nil
			})
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestStagedMissingManifest(t *testing.T) {
	err := NewStaged(t.TempDir()).Each(context.Background(), func(item.PushItem) error {
		return nil
	})
	require.ErrorContains(t, err, "reading staged metadata")
}

func TestFromURL(t *testing.T) {
	src, err := FromURL("staged:/mnt/a,/mnt/b")
	require.NoError(t, err)
	require.Equal(t, &Staged{dirs: []string{"/mnt/a", "/mnt/b"}}, src)

	_, err = FromURL("/mnt/a")
	require.ErrorContains(t, err, "no scheme")

	_, err = FromURL("ftp:/mnt/a")
	require.ErrorContains(t, err, "unsupported source scheme")

	_, err = FromURL("staged:")
	require.ErrorContains(t, err, "names no directories")
}
