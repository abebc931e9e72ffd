package phase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/release-engineering/pulp-push/internal/push/item"
)

func TestDedupe(t *testing.T) {
	pending, _ := item.ForPushItem(item.PushItem{
		Kind: item.KindRPM, Name: "a-1-1.noarch.rpm",
		Dest: []string{"repo-a"}, SHA256Sum: "a", State: item.Pending,
	})
	exists := item.WithState(pending, item.Exists)
	other, _ := item.ForPushItem(item.PushItem{
		Kind: item.KindRPM, Name: "b-1-1.noarch.rpm",
		Dest: []string{"repo-a"}, SHA256Sum: "b", State: item.Pending,
	})

	out := dedupe([]item.Item{pending, other, exists})

	// The later state replaces the earlier one in place.
	require.Len(t, out, 2)
	require.Equal(t, "a-1-1.noarch.rpm", out[0].PushItem().Name)
	require.Equal(t, item.Exists, out[0].PushItem().State)
	require.Equal(t, "b-1-1.noarch.rpm", out[1].PushItem().Name)
}

func TestDedupeDistinguishesDest(t *testing.T) {
	a, _ := item.ForPushItem(item.PushItem{
		Kind: item.KindFile, Name: "tool.iso", Dest: []string{"repo-a"}, SHA256Sum: "x",
	})
	b, _ := item.ForPushItem(item.PushItem{
		Kind: item.KindFile, Name: "tool.iso", Dest: []string{"repo-b"}, SHA256Sum: "x",
	})

	require.Len(t, dedupe([]item.Item{a, b}), 2)
}
