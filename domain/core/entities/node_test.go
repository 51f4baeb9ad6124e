package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_Defaults(t *testing.T) {
	node, err := NewNode("https://docs.example.com/guide", "Guide", "")

	require.NoError(t, err)
	assert.Equal(t, NodeTypePage, node.Type)
	assert.Empty(t, node.Children)
	assert.False(t, node.LastVisited.IsZero())
}

func TestNewNode_RejectsRelativeURL(t *testing.T) {
	_, err := NewNode("/guide/intro", "Intro", NodeTypePage)
	assert.Error(t, err)

	_, err = NewNode("ftp://example.com/file", "File", NodeTypeDocument)
	assert.Error(t, err)
}

func TestMergeChildren_Union(t *testing.T) {
	node, err := NewNode("https://example.com/a", "A", NodeTypePage)
	require.NoError(t, err)

	added := node.MergeChildren([]string{"https://example.com/b", "https://example.com/c"})
	assert.Equal(t, 2, added)

	// Overlapping merge only adds the new member and keeps order
	added = node.MergeChildren([]string{"https://example.com/c", "https://example.com/d"})
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/d",
	}, node.Children)
}

func TestMergeChildren_Idempotent(t *testing.T) {
	node, err := NewNode("https://example.com/a", "A", NodeTypePage)
	require.NoError(t, err)

	children := []string{"https://example.com/b", "https://example.com/c"}
	node.MergeChildren(children)
	added := node.MergeChildren(children)

	assert.Equal(t, 0, added)
	assert.Len(t, node.Children, 2)
}

func TestMergeChildren_SkipsSelfAndEmpty(t *testing.T) {
	node, err := NewNode("https://example.com/a", "A", NodeTypePage)
	require.NoError(t, err)

	added := node.MergeChildren([]string{"", "https://example.com/a", "https://example.com/b"})

	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"https://example.com/b"}, node.Children)
}

func TestMerge_LastWriterWinsScalars(t *testing.T) {
	existing, err := NewNode("https://example.com/a", "Old title", NodeTypePage)
	require.NoError(t, err)
	existing.MergeChildren([]string{"https://example.com/b"})

	incoming, err := NewNode("https://example.com/a", "New title", NodeTypeDocument)
	require.NoError(t, err)
	incoming.DocumentType = "pdf"
	incoming.PublisherAuthority = 0.8
	incoming.MergeChildren([]string{"https://example.com/c"})

	existing.Merge(incoming)

	assert.Equal(t, "New title", existing.Title)
	assert.Equal(t, NodeTypeDocument, existing.Type)
	assert.Equal(t, "pdf", existing.DocumentType)
	assert.Equal(t, 0.8, existing.PublisherAuthority)
	// Children are a union, never replaced
	assert.ElementsMatch(t, []string{"https://example.com/b", "https://example.com/c"}, existing.Children)
}

func TestClone_Independent(t *testing.T) {
	node, err := NewNode("https://example.com/a", "A", NodeTypePage)
	require.NoError(t, err)
	node.MergeChildren([]string{"https://example.com/b"})

	dup := node.Clone()
	dup.Children[0] = "https://example.com/mutated"

	assert.Equal(t, "https://example.com/b", node.Children[0])
}
