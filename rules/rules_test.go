package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *Tree, prefix Path) map[string]bool {
	out := map[string]bool{}
	for p, v := range t.All(prefix) {
		out[p.String()] = v
	}
	return out
}

func TestLookup(t *testing.T) {
	t.Run("default closed", func(t *testing.T) {
		tree := New()
		assert.False(t, tree.Lookup(Path{"issue", "opened", "12"}))
		assert.False(t, tree.Lookup(nil))
	})

	t.Run("most specific rule wins", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"a", "b"}, Bool(true))
		tree.Set(Path{"a"}, Bool(false))

		assert.True(t, tree.Lookup(Path{"a", "b", "c"}))
		assert.True(t, tree.Lookup(Path{"a", "b"}))
		assert.False(t, tree.Lookup(Path{"a", "x"}))
		assert.False(t, tree.Lookup(Path{"a"}))
	})

	t.Run("deeper rules do not answer shorter queries", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"branch", "pushed", "main"}, Bool(true))

		assert.False(t, tree.Lookup(Path{"branch", "pushed"}))
		assert.False(t, tree.Lookup(Path{"branch"}))
		assert.True(t, tree.Lookup(Path{"branch", "pushed", "main"}))
	})

	t.Run("siblings do not inherit from each other", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"C1", "branch", "pushed"}, Bool(true))

		assert.True(t, tree.Lookup(Path{"C1", "branch", "pushed", "feature"}))
		assert.False(t, tree.Lookup(Path{"C1", "branch", "created", "feature"}))

		tree.Set(Path{"C1", "branch"}, Bool(true))
		assert.True(t, tree.Lookup(Path{"C1", "branch", "created", "feature"}))
	})

	t.Run("root default applies to everything", func(t *testing.T) {
		tree := New()
		tree.Set(nil, Bool(true))
		assert.True(t, tree.Lookup(nil))
		assert.True(t, tree.Lookup(Path{"anything", "at", "all"}))
	})

	t.Run("segments are exact match", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"Issue"}, Bool(true))
		assert.False(t, tree.Lookup(Path{"issue"}))
		assert.False(t, tree.Lookup(Path{"Issue "}))
	})
}

func TestSet(t *testing.T) {
	t.Run("inherit round trip", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"a"}, Bool(true))
		tree.Set(Path{"a", "b"}, Bool(false))
		require.False(t, tree.Lookup(Path{"a", "b"}))

		tree.Set(Path{"a", "b"}, nil)
		assert.True(t, tree.Lookup(Path{"a", "b"}))

		tree.Set(Path{"a"}, nil)
		assert.False(t, tree.Lookup(Path{"a", "b"}))
		assert.True(t, tree.Empty())
	})

	t.Run("idempotent", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"x", "y"}, Bool(true))
		tree.Set(Path{"x", "y"}, Bool(true))

		assert.Equal(t, map[string]bool{"x y": true}, collect(tree, nil))
		assert.True(t, tree.Lookup(Path{"x", "y", "z"}))
	})

	t.Run("unset prunes empty nodes only", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"a", "b", "c"}, Bool(true))
		tree.Set(Path{"a"}, Bool(false))
		tree.Set(Path{"a", "b", "c"}, nil)

		assert.Nil(t, tree.find(Path{"a", "b"}))
		require.NotNil(t, tree.find(Path{"a"}))
		assert.Equal(t, Bool(false), tree.Get(Path{"a"}))
	})

	t.Run("unset of unknown path is a no-op", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"a", "b"}, nil)
		assert.True(t, tree.Empty())
	})

	t.Run("get returns only explicit values", func(t *testing.T) {
		tree := New()
		tree.Set(Path{"a"}, Bool(true))
		assert.Nil(t, tree.Get(Path{"a", "b"}))
		assert.Equal(t, Bool(true), tree.Get(Path{"a"}))
	})
}

func TestAll(t *testing.T) {
	tree := New()
	tree.Set(Path{"C1", "issue"}, Bool(true))
	tree.Set(Path{"C1", "build", "failure"}, Bool(true))
	tree.Set(Path{"C1", "build"}, Bool(false))
	tree.Set(Path{"C2", "branch"}, Bool(true))

	var got []string
	for p, v := range tree.All(Path{"C1"}) {
		s := p.String() + " off"
		if v {
			s = p.String() + " on"
		}
		got = append(got, s)
	}
	assert.Equal(t, []string{"build off", "build failure on", "issue on"}, got)

	assert.Empty(t, collect(tree, Path{"C3"}))
	assert.Len(t, collect(tree, nil), 4)

	t.Run("stops when asked", func(t *testing.T) {
		n := 0
		for range tree.All(nil) {
			n++
			break
		}
		assert.Equal(t, 1, n)
	})
}

func TestJSON(t *testing.T) {
	tree := New()
	tree.Set(Path{"C1", "issue", "opened"}, Bool(true))
	tree.Set(Path{"C1"}, Bool(false))

	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rules":{"C1":{"default":false,"rules":{"issue":{"rules":{"opened":{"default":true,"rules":{}}}}}}}}`, string(data))

	var decoded Tree
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Lookup(Path{"C1", "issue", "opened", "7"}))
	assert.False(t, decoded.Lookup(Path{"C1", "issue", "closed"}))

	t.Run("drops empty nodes on load", func(t *testing.T) {
		var tr Tree
		require.NoError(t, json.Unmarshal([]byte(`{"rules":{"C1":{"rules":{"x":{"rules":{}}}},"C2":null}}`), &tr))
		assert.True(t, tr.Empty())
	})
}
