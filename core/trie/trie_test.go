package trie_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitroio/nitro/core/trie"
)

func TestAddSearchLongestAndShortest(t *testing.T) {
	tr := trie.New()
	a := "subscriber-A"
	b := "subscriber-B"

	tr.Add([]byte("foobar"), a)
	tr.Add([]byte("foo"), b)

	var matched []string
	tr.Search([]byte("foobark"), func(rep []byte, members []any) {
		for _, m := range members {
			matched = append(matched, m.(string))
		}
	})
	require.ElementsMatch(t, []string{a, b}, matched)

	matched = nil
	tr.Search([]byte("foo"), func(rep []byte, members []any) {
		for _, m := range members {
			matched = append(matched, m.(string))
		}
	})
	require.Equal(t, []string{b}, matched)
}

func TestSearchOrdersShortestToLongest(t *testing.T) {
	tr := trie.New()
	tr.Add([]byte(""), "root-sub")
	tr.Add([]byte("a"), "a-sub")
	tr.Add([]byte("ab"), "ab-sub")
	tr.Add([]byte("abc"), "abc-sub")

	var order []string
	tr.Search([]byte("abcd"), func(rep []byte, members []any) {
		order = append(order, string(rep))
	})
	require.Equal(t, []string{"", "a", "ab", "abc"}, order)
}

func TestAddSameSubscriberTwiceIsIndependent(t *testing.T) {
	tr := trie.New()
	tr.Add([]byte("k"), "s")
	tr.Add([]byte("k"), "s")

	count := 0
	tr.Search([]byte("k"), func(rep []byte, members []any) { count = len(members) })
	require.Equal(t, 2, count)

	require.NoError(t, tr.Delete([]byte("k"), "s"))
	count = 0
	tr.Search([]byte("k"), func(rep []byte, members []any) { count = len(members) })
	require.Equal(t, 1, count)
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	tr := trie.New()
	require.ErrorIs(t, tr.Delete([]byte("nope"), "s"), trie.ErrNotFound)

	tr.Add([]byte("k"), "s1")
	require.ErrorIs(t, tr.Delete([]byte("k"), "s2"), trie.ErrNotFound)
}

func TestSplitOnDivergence(t *testing.T) {
	// "team" and "teapot" diverge at offset 3 ("tea"), forcing the trie to
	// insert a structural split node above both; that split node has no
	// subscribers of its own, so only the exact node's members are seen.
	tr := trie.New()
	tr.Add([]byte("team"), "t")
	tr.Add([]byte("teapot"), "p")

	var hits []string
	tr.Search([]byte("teapot"), func(rep []byte, members []any) {
		hits = append(hits, string(rep))
	})
	require.Equal(t, []string{"teapot"}, hits)

	hits = nil
	tr.Search([]byte("team"), func(rep []byte, members []any) {
		hits = append(hits, string(rep))
	})
	require.Equal(t, []string{"team"}, hits)

	// a subscriber on the shared prefix itself now sees both via the split
	// node.
	tr.Add([]byte("tea"), "all")
	hits = nil
	tr.Search([]byte("teapot"), func(rep []byte, members []any) {
		hits = append(hits, string(rep))
	})
	require.Equal(t, []string{"tea", "teapot"}, hits)
}

func TestNoSiblingSharesLeadingByte(t *testing.T) {
	// Regression guard for the split invariant: after inserting divergent
	// keys under a shared parent, a search along an unrelated branch must
	// not see the sibling's members.
	tr := trie.New()
	tr.Add([]byte("cat"), "cat-sub")
	tr.Add([]byte("car"), "car-sub")

	var hits []string
	tr.Search([]byte("car"), func(rep []byte, members []any) {
		for _, m := range members {
			hits = append(hits, m.(string))
		}
	})
	require.Equal(t, []string{"car-sub"}, hits)
}

func TestEmptyRootMatchesEverything(t *testing.T) {
	tr := trie.New()
	tr.Add(nil, "catch-all")

	var hits []string
	tr.Search([]byte("anything"), func(rep []byte, members []any) {
		for _, m := range members {
			hits = append(hits, m.(string))
		}
	})
	require.Equal(t, []string{"catch-all"}, hits)
}
