package entities

import (
	"strings"
	"time"

	pkgerrors "navgraph-backend/pkg/errors"
)

// NodeType classifies what kind of resource a node represents
type NodeType string

const (
	NodeTypePage     NodeType = "page"
	NodeTypeSection  NodeType = "section"
	NodeTypeDocument NodeType = "document"
)

// Node is a discovered page, section or document in the navigation graph,
// keyed globally by URL. Children is an ordered set of child URLs: directed
// edges that may reference nodes not yet created (lazy creation). Writes
// union-merge children and never destructively replace them.
type Node struct {
	URL                string     `json:"url"`
	Title              string     `json:"title"`
	Type               NodeType   `json:"type"`
	Children           []string   `json:"children"`
	LastVisited        time.Time  `json:"lastVisited"`
	DocumentType       string     `json:"documentType,omitempty"`
	PublisherAuthority float64    `json:"publisherAuthority,omitempty"`
	PublishedAt        *time.Time `json:"publishedAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// NewNode creates a node with validated identity
func NewNode(url, title string, nodeType NodeType) (*Node, error) {
	if err := ValidateNodeURL(url); err != nil {
		return nil, err
	}

	if nodeType == "" {
		nodeType = NodeTypePage
	}
	if !nodeType.Valid() {
		return nil, pkgerrors.NewValidationError("invalid node type: " + string(nodeType))
	}

	now := time.Now()
	return &Node{
		URL:         url,
		Title:       title,
		Type:        nodeType,
		Children:    []string{},
		LastVisited: now,
		UpdatedAt:   now,
	}, nil
}

// Valid reports whether the node type is one of the known kinds
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypePage, NodeTypeSection, NodeTypeDocument:
		return true
	}
	return false
}

// ValidateNodeURL checks that a URL can serve as a node identity
func ValidateNodeURL(url string) error {
	if url == "" {
		return pkgerrors.NewValidationError("node url cannot be empty")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return pkgerrors.NewValidationError("node url must be an absolute http(s) URL")
	}
	return nil
}

// HasChild reports whether url is already a child edge of this node
func (n *Node) HasChild(url string) bool {
	for _, c := range n.Children {
		if c == url {
			return true
		}
	}
	return false
}

// MergeChildren unions the given child URLs into the node's children with
// true set semantics: duplicates within the input and against the existing
// children are dropped, first-seen order is preserved. Returns the number
// of edges actually added. This is the no-duplicate-edge invariant of the
// write path; repeated merges with overlapping lists leave the edge count
// unchanged.
func (n *Node) MergeChildren(children []string) int {
	if len(children) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(n.Children)+len(children))
	for _, c := range n.Children {
		seen[c] = struct{}{}
	}

	added := 0
	for _, c := range children {
		if c == "" || c == n.URL {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		n.Children = append(n.Children, c)
		added++
	}
	return added
}

// Merge applies an incoming write onto the stored node. Scalar fields are
// last-writer-wins (no vector clocks); children are union-merged. Returns
// the number of new child edges.
func (n *Node) Merge(incoming *Node) int {
	if incoming.Title != "" {
		n.Title = incoming.Title
	}
	if incoming.Type.Valid() {
		n.Type = incoming.Type
	}
	if incoming.DocumentType != "" {
		n.DocumentType = incoming.DocumentType
	}
	if incoming.PublisherAuthority != 0 {
		n.PublisherAuthority = incoming.PublisherAuthority
	}
	if incoming.PublishedAt != nil {
		n.PublishedAt = incoming.PublishedAt
	}

	added := n.MergeChildren(incoming.Children)

	now := time.Now()
	n.LastVisited = now
	n.UpdatedAt = now
	return added
}

// Clone returns a deep copy, so traversal results cannot alias store state
func (n *Node) Clone() *Node {
	dup := *n
	dup.Children = append([]string(nil), n.Children...)
	if n.PublishedAt != nil {
		t := *n.PublishedAt
		dup.PublishedAt = &t
	}
	return &dup
}
