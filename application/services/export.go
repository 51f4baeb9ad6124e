package services

import (
	"encoding/json"
	"encoding/xml"
	"sort"
	"strconv"

	pkgerrors "navgraph-backend/pkg/errors"
)

// Export formats
const (
	ExportFormatJSON    = "json"
	ExportFormatGraphML = "graphml"
)

// ExportOptions tune serialization output
type ExportOptions struct {
	IncludeMembers   bool
	IncludePositions bool
	Layout           VisualizationOptions
}

// jsonExport is the on-the-wire shape of a meta-graph export. It carries
// everything needed to reconstruct cluster ids, sizes and edge weights.
type jsonExport struct {
	Params        ClusteringParams    `json:"params"`
	Clusters      map[string]*Cluster `json:"clusters"`
	Edges         []MetaEdge          `json:"edges"`
	TotalNodes    int                 `json:"totalNodes"`
	TotalClusters int                 `json:"totalClusters"`
	ExcludedNodes int                 `json:"excludedNodes"`
	Positions     []PositionedCluster `json:"positions,omitempty"`
}

// ExportJSON serializes a meta-graph losslessly. Reparsing the output
// reconstructs identical cluster ids, sizes and edge weights.
func (s *ClusteringService) ExportJSON(meta *MetaGraph, opts ExportOptions) ([]byte, error) {
	if meta == nil {
		return nil, pkgerrors.NewValidationError("meta-graph is required")
	}

	out := jsonExport{
		Params:        meta.Params,
		Clusters:      meta.Clusters,
		Edges:         meta.Edges,
		TotalNodes:    meta.TotalNodes,
		TotalClusters: meta.TotalClusters,
		ExcludedNodes: meta.ExcludedNodes,
	}

	if !opts.IncludeMembers {
		trimmed := make(map[string]*Cluster, len(meta.Clusters))
		for id, c := range meta.Clusters {
			dup := *c
			dup.Members = nil
			trimmed[id] = &dup
		}
		out.Clusters = trimmed
	}

	if opts.IncludePositions {
		viz, err := s.GenerateVisualizationData(meta, opts.Layout)
		if err != nil {
			return nil, err
		}
		out.Positions = viz.Nodes
	}

	return json.MarshalIndent(out, "", "  ")
}

// ParseJSONExport reparses an ExportJSON payload
func ParseJSONExport(data []byte) (*MetaGraph, error) {
	var in jsonExport
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, pkgerrors.NewValidationError("malformed meta-graph export").WithCause(err)
	}
	return &MetaGraph{
		Clusters:      in.Clusters,
		Edges:         in.Edges,
		TotalNodes:    in.TotalNodes,
		TotalClusters: in.TotalClusters,
		ExcludedNodes: in.ExcludedNodes,
		Params:        in.Params,
	}, nil
}

// GraphML document structure

type graphMLDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphMLKey `xml:"key"`
	Graph   graphMLGraph `xml:"graph"`
}

type graphMLKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphMLGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphMLNode `xml:"node"`
	Edges       []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphMLData `xml:"data"`
}

type graphMLEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphMLData `xml:"data"`
}

type graphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// ExportGraphML serializes a meta-graph as well-formed GraphML
func (s *ClusteringService) ExportGraphML(meta *MetaGraph, opts ExportOptions) ([]byte, error) {
	if meta == nil {
		return nil, pkgerrors.NewValidationError("meta-graph is required")
	}

	doc := graphMLDoc{
		XMLNS: "http://graphml.graphdrawing.org/xmlns",
		Keys: []graphMLKey{
			{ID: "label", For: "node", AttrName: "pathPrefix", AttrType: "string"},
			{ID: "size", For: "node", AttrName: "size", AttrType: "int"},
			{ID: "weight", For: "edge", AttrName: "weight", AttrType: "int"},
		},
		Graph: graphMLGraph{
			ID:          "metagraph",
			EdgeDefault: "directed",
		},
	}

	ids := make([]string, 0, len(meta.Clusters))
	for id := range meta.Clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := meta.Clusters[id]
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphMLNode{
			ID: c.ID,
			Data: []graphMLData{
				{Key: "label", Value: c.PathPrefix},
				{Key: "size", Value: strconv.Itoa(c.Size)},
			},
		})
	}

	for _, e := range meta.Edges {
		doc.Graph.Edges = append(doc.Graph.Edges, graphMLEdge{
			Source: e.Source,
			Target: e.Target,
			Data:   []graphMLData{{Key: "weight", Value: strconv.Itoa(e.Weight)}},
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to marshal GraphML")
	}
	return append([]byte(xml.Header), body...), nil
}

