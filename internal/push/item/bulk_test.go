package item

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
	"github.com/release-engineering/pulp-push/pkg/pulp/fake"
)

func TestWithPulpState(t *testing.T) {
	client := fake.New().
		AddRepository("repo-a").
		AddUnit(&pulp.RPMUnit{
			Name:                  "bash-5.0-1.el8.x86_64.rpm",
			SHA256Sum:             "aaa",
			RepositoryMemberships: []string{"repo-a"},
		})

	inRepo, _ := ForPushItem(PushItem{
		Kind: KindRPM, Name: "bash-5.0-1.el8.x86_64.rpm",
		Dest: []string{"repo-a"}, SHA256Sum: "aaa",
	})
	missing, _ := ForPushItem(PushItem{
		Kind: KindRPM, Name: "vim-8.0-1.el8.x86_64.rpm",
		Dest: []string{"repo-a"}, SHA256Sum: "bbb",
	})

	out, err := WithPulpState(context.Background(), client, []Item{inRepo, missing})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, StateInRepos, out[0].State())
	require.Equal(t, StateMissing, out[1].State())
}

func TestWithPulpStateNoUnitType(t *testing.T) {
	module, _ := ForPushItem(PushItem{Kind: KindModuleMd, Name: "modules.yaml", Dest: []string{"repo-a"}})

	out, err := WithPulpState(context.Background(), fake.New(), []Item{module})
	require.NoError(t, err)
	require.Equal(t, []Item{module}, out)
	require.Equal(t, StateUnknown, out[0].State())
}

func TestAssociated(t *testing.T) {
	client := fake.New().
		AddRepository("repo-a", "repo-b").
		AddUnit(&pulp.RPMUnit{
			Name:                  "bash-5.0-1.el8.x86_64.rpm",
			SHA256Sum:             "aaa",
			SigningKey:            "key1",
			RepositoryMemberships: []string{"repo-a"},
		})

	it, _ := ForPushItem(PushItem{
		Kind: KindRPM, Name: "bash-5.0-1.el8.x86_64.rpm",
		Dest: []string{"repo-a", "repo-b"}, SHA256Sum: "aaa", SigningKey: "key1",
	})
	items, err := WithPulpState(context.Background(), client, []Item{it})
	require.NoError(t, err)
	require.Equal(t, StatePartial, items[0].State())

	out, err := Associated(context.Background(), client, logger.NewNoopLogger(), items,
		pulp.CopyOptions{RequireSignedRPMs: true})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, StateInRepos, out[0].State())
	require.Empty(t, MissingPulpRepos(out[0]))
}

func TestAssociatedConfirmationFailure(t *testing.T) {
	// Unsigned RPMs are silently skipped by a signature-enforcing copy,
	// so the follow-up query still finds the item missing from its
	// destination.
	client := fake.New().
		AddRepository("repo-a", "repo-b").
		AddUnit(&pulp.RPMUnit{
			Name:                  "bash-5.0-1.el8.x86_64.rpm",
			SHA256Sum:             "aaa",
			RepositoryMemberships: []string{"repo-a"},
		})

	it, _ := ForPushItem(PushItem{
		Kind: KindRPM, Name: "bash-5.0-1.el8.x86_64.rpm",
		Dest: []string{"repo-a", "repo-b"}, SHA256Sum: "aaa",
	})
	items, err := WithPulpState(context.Background(), client, []Item{it})
	require.NoError(t, err)

	_, err = Associated(context.Background(), client, logger.NewNoopLogger(), items,
		pulp.CopyOptions{RequireSignedRPMs: true})

	var confErr *ConfirmationError
	require.ErrorAs(t, err, &confErr)
	require.Contains(t, confErr.Error(), "bash-5.0-1.el8.x86_64.rpm")
}

func TestEnsureUptodate(t *testing.T) {
	client := fake.New().
		AddRepository("repo-a").
		AddUnit(&pulp.FileUnit{
			Path:                  "tool.iso",
			SHA256Sum:             "aaa",
			Description:           "old",
			RepositoryMemberships: []string{"repo-a"},
		})

	it, _ := ForPushItem(PushItem{
		Kind: KindFile, Name: "tool.iso", Dest: []string{"repo-a"},
		SHA256Sum: "aaa", Description: "new",
	})
	items, err := WithPulpState(context.Background(), client, []Item{it})
	require.NoError(t, err)
	require.Equal(t, StateNeedsUpdate, items[0].State())

	out, err := EnsureUptodate(context.Background(), client, items[0])
	require.NoError(t, err)
	require.Equal(t, StateInRepos, out.State())

	unit := out.Unit().(*pulp.FileUnit)
	require.Equal(t, "new", unit.Description)
	require.Equal(t, []string{"repo-a"}, unit.RepositoryMemberships)
}
