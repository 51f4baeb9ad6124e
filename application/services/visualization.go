package services

import (
	"math"
	"math/rand"
	"sort"

	pkgerrors "navgraph-backend/pkg/errors"
)

// Layout algorithms for meta-graph visualization
const (
	LayoutGrid         = "grid"
	LayoutCircular     = "circular"
	LayoutHierarchical = "hierarchical"
	LayoutForce        = "force"
)

// VisualizationOptions parameterize layout generation. Seed only matters
// for the force layout, which is the one layout using randomness; a fixed
// seed makes it reproducible.
type VisualizationOptions struct {
	Layout      string
	Width       int
	Height      int
	NodeSpacing int
	Iterations  int
	Seed        int64
}

// PositionedCluster is one cluster placed on the canvas
type PositionedCluster struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Size  int     `json:"size"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// VisualizationData is a ready-to-render layout of a meta-graph. It is a
// pure function of the meta-graph and the options.
type VisualizationData struct {
	Layout string              `json:"layout"`
	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Nodes  []PositionedCluster `json:"nodes"`
	Edges  []MetaEdge          `json:"edges"`
}

// GenerateVisualizationData places a meta-graph's clusters with the
// requested layout. Grid, circular and hierarchical are closed-form;
// force is an iterative relaxation bounded by Iterations.
func (s *ClusteringService) GenerateVisualizationData(meta *MetaGraph, opts VisualizationOptions) (*VisualizationData, error) {
	if meta == nil {
		return nil, pkgerrors.NewValidationError("meta-graph is required")
	}
	if opts.Width <= 0 {
		opts.Width = 1200
	}
	if opts.Height <= 0 {
		opts.Height = 800
	}
	if opts.NodeSpacing <= 0 {
		opts.NodeSpacing = 120
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 50
	}
	if opts.Layout == "" {
		opts.Layout = LayoutGrid
	}

	// Deterministic placement order: largest clusters first, id breaks ties
	ordered := make([]*Cluster, 0, len(meta.Clusters))
	for _, c := range meta.Clusters {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Size != ordered[j].Size {
			return ordered[i].Size > ordered[j].Size
		}
		return ordered[i].ID < ordered[j].ID
	})

	var nodes []PositionedCluster
	switch opts.Layout {
	case LayoutGrid:
		nodes = layoutGrid(ordered, opts)
	case LayoutCircular:
		nodes = layoutCircular(ordered, opts)
	case LayoutHierarchical:
		nodes = layoutHierarchical(ordered, opts)
	case LayoutForce:
		nodes = layoutForce(ordered, meta.Edges, opts)
	default:
		return nil, pkgerrors.NewValidationError("unknown layout: " + opts.Layout)
	}

	return &VisualizationData{
		Layout: opts.Layout,
		Width:  opts.Width,
		Height: opts.Height,
		Nodes:  nodes,
		Edges:  meta.Edges,
	}, nil
}

func layoutGrid(clusters []*Cluster, opts VisualizationOptions) []PositionedCluster {
	nodes := make([]PositionedCluster, 0, len(clusters))
	if len(clusters) == 0 {
		return nodes
	}

	cols := int(math.Ceil(math.Sqrt(float64(len(clusters)))))
	for i, c := range clusters {
		row := i / cols
		col := i % cols
		nodes = append(nodes, PositionedCluster{
			ID:    c.ID,
			Label: c.PathPrefix,
			Size:  c.Size,
			X:     float64(col*opts.NodeSpacing + opts.NodeSpacing/2),
			Y:     float64(row*opts.NodeSpacing + opts.NodeSpacing/2),
		})
	}
	return nodes
}

func layoutCircular(clusters []*Cluster, opts VisualizationOptions) []PositionedCluster {
	nodes := make([]PositionedCluster, 0, len(clusters))
	if len(clusters) == 0 {
		return nodes
	}

	cx := float64(opts.Width) / 2
	cy := float64(opts.Height) / 2
	radius := math.Min(cx, cy) - float64(opts.NodeSpacing)/2
	if radius < 1 {
		radius = 1
	}

	step := 2 * math.Pi / float64(len(clusters))
	for i, c := range clusters {
		angle := float64(i) * step
		nodes = append(nodes, PositionedCluster{
			ID:    c.ID,
			Label: c.PathPrefix,
			Size:  c.Size,
			X:     cx + radius*math.Cos(angle),
			Y:     cy + radius*math.Sin(angle),
		})
	}
	return nodes
}

func layoutHierarchical(clusters []*Cluster, opts VisualizationOptions) []PositionedCluster {
	nodes := make([]PositionedCluster, 0, len(clusters))
	if len(clusters) == 0 {
		return nodes
	}

	// Level = number of path segments in the prefix; shallower prefixes
	// sit higher on the canvas.
	levels := make(map[int][]*Cluster)
	maxLevel := 0
	for _, c := range clusters {
		level := 0
		for _, r := range c.PathPrefix {
			if r == '/' {
				level++
			}
		}
		levels[level] = append(levels[level], c)
		if level > maxLevel {
			maxLevel = level
		}
	}

	for level := 0; level <= maxLevel; level++ {
		row := levels[level]
		if len(row) == 0 {
			continue
		}
		sort.Slice(row, func(i, j int) bool { return row[i].PathPrefix < row[j].PathPrefix })

		y := float64((level + 1) * opts.NodeSpacing)
		spacing := float64(opts.Width) / float64(len(row)+1)
		for i, c := range row {
			nodes = append(nodes, PositionedCluster{
				ID:    c.ID,
				Label: c.PathPrefix,
				Size:  c.Size,
				X:     spacing * float64(i+1),
				Y:     y,
			})
		}
	}
	return nodes
}

func layoutForce(clusters []*Cluster, edges []MetaEdge, opts VisualizationOptions) []PositionedCluster {
	nodes := make([]PositionedCluster, 0, len(clusters))
	if len(clusters) == 0 {
		return nodes
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	index := make(map[string]int, len(clusters))
	xs := make([]float64, len(clusters))
	ys := make([]float64, len(clusters))
	for i, c := range clusters {
		index[c.ID] = i
		xs[i] = rng.Float64() * float64(opts.Width)
		ys[i] = rng.Float64() * float64(opts.Height)
	}

	k := float64(opts.NodeSpacing)
	for iter := 0; iter < opts.Iterations; iter++ {
		// Cooling keeps late iterations from overshooting
		temp := k * (1 - float64(iter)/float64(opts.Iterations))

		dx := make([]float64, len(clusters))
		dy := make([]float64, len(clusters))

		// Pairwise repulsion
		for i := range clusters {
			for j := i + 1; j < len(clusters); j++ {
				ddx := xs[i] - xs[j]
				ddy := ys[i] - ys[j]
				dist := math.Hypot(ddx, ddy)
				if dist < 0.01 {
					dist = 0.01
				}
				force := k * k / dist
				dx[i] += ddx / dist * force
				dy[i] += ddy / dist * force
				dx[j] -= ddx / dist * force
				dy[j] -= ddy / dist * force
			}
		}

		// Attraction along weighted meta-edges
		for _, e := range edges {
			i, ok1 := index[e.Source]
			j, ok2 := index[e.Target]
			if !ok1 || !ok2 {
				continue
			}
			ddx := xs[i] - xs[j]
			ddy := ys[i] - ys[j]
			dist := math.Hypot(ddx, ddy)
			if dist < 0.01 {
				dist = 0.01
			}
			force := dist * dist / k * float64(e.Weight)
			dx[i] -= ddx / dist * force
			dy[i] -= ddy / dist * force
			dx[j] += ddx / dist * force
			dy[j] += ddy / dist * force
		}

		for i := range clusters {
			disp := math.Hypot(dx[i], dy[i])
			if disp < 0.01 {
				continue
			}
			limited := math.Min(disp, temp)
			xs[i] += dx[i] / disp * limited
			ys[i] += dy[i] / disp * limited
			xs[i] = math.Max(0, math.Min(float64(opts.Width), xs[i]))
			ys[i] = math.Max(0, math.Min(float64(opts.Height), ys[i]))
		}
	}

	for i, c := range clusters {
		nodes = append(nodes, PositionedCluster{
			ID:    c.ID,
			Label: c.PathPrefix,
			Size:  c.Size,
			X:     xs[i],
			Y:     ys[i],
		})
	}
	return nodes
}
