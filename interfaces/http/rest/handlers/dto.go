package handlers

import (
	"net/http"
	"strconv"
	"time"

	"navgraph-backend/application/ports"
	"navgraph-backend/application/services"
	"navgraph-backend/domain/core/entities"

	pkgerrors "navgraph-backend/pkg/errors"
)

// IngestNodeRequest is the update-ingest payload from crawl workers
type IngestNodeRequest struct {
	URL                string     `json:"url" validate:"required,url"`
	Title              string     `json:"title" validate:"max=512"`
	Type               string     `json:"type" validate:"omitempty,oneof=page section document"`
	Children           []string   `json:"children" validate:"omitempty,dive,url"`
	DocumentType       string     `json:"documentType" validate:"max=64"`
	PublisherAuthority float64    `json:"publisherAuthority" validate:"gte=0,lte=1"`
	PublishedAt        *time.Time `json:"publishedAt"`
}

// ToNode converts the payload into a domain node
func (r *IngestNodeRequest) ToNode() (*entities.Node, error) {
	node, err := entities.NewNode(r.URL, r.Title, entities.NodeType(r.Type))
	if err != nil {
		return nil, err
	}
	node.MergeChildren(r.Children)
	node.DocumentType = r.DocumentType
	node.PublisherAuthority = r.PublisherAuthority
	node.PublishedAt = r.PublishedAt
	return node, nil
}

// BuildStructureRequest triggers a structure repair pass
type BuildStructureRequest struct {
	Strategy         string `json:"strategy" validate:"required,oneof=hierarchical clustered semantic"`
	MaxDepth         int    `json:"maxDepth" validate:"omitempty,gte=1,lte=10"`
	MinGroupSize     int    `json:"minGroupSize" validate:"omitempty,gte=1,lte=100"`
	SetRootIfMissing bool   `json:"setRootIfMissing"`
}

// GraphHealthResponse reports structural health. Degradation travels in
// the body; the endpoint itself always answers 200.
type GraphHealthResponse struct {
	Status            string   `json:"status"`
	TotalNodes        int      `json:"totalNodes"`
	IsolatedNodes     int      `json:"isolatedNodes"`
	IsolatedRatio     float64  `json:"isolatedRatio"`
	ConnectivityRatio float64  `json:"connectivityRatio"`
	RootPresent       bool     `json:"rootPresent"`
	Issues            []string `json:"issues,omitempty"`
}

const (
	healthStatusHealthy  = "healthy"
	healthStatusWarning  = "warning"
	healthStatusCritical = "critical"
)

// assessHealth classifies graph connectivity. Empty graphs are healthy;
// there is nothing to be disconnected from.
func assessHealth(stats *ports.GraphStatistics) GraphHealthResponse {
	resp := GraphHealthResponse{
		Status:            healthStatusHealthy,
		TotalNodes:        stats.TotalNodes,
		IsolatedNodes:     stats.IsolatedNodes,
		ConnectivityRatio: stats.ConnectivityRatio,
		RootPresent:       stats.RootURL != "",
	}
	if stats.TotalNodes == 0 {
		resp.RootPresent = false
		resp.ConnectivityRatio = 1
		return resp
	}

	resp.IsolatedRatio = float64(stats.IsolatedNodes) / float64(stats.TotalNodes)

	if resp.ConnectivityRatio < 0.3 {
		resp.Issues = append(resp.Issues, "connectivity ratio below 0.3")
	}
	if resp.IsolatedRatio > 0.5 {
		resp.Issues = append(resp.Issues, "more than half of all nodes are isolated")
	}
	if !resp.RootPresent {
		resp.Issues = append(resp.Issues, "no root node set")
	}
	if len(resp.Issues) > 0 {
		resp.Status = healthStatusCritical
		return resp
	}

	if resp.ConnectivityRatio < 0.5 {
		resp.Issues = append(resp.Issues, "connectivity ratio below 0.5")
	}
	if resp.IsolatedRatio > 0.3 {
		resp.Issues = append(resp.Issues, "more than 30% of nodes are isolated")
	}
	if len(resp.Issues) > 0 {
		resp.Status = healthStatusWarning
	}
	return resp
}

// Query parameter helpers. Absent or malformed values fall back to zero;
// range errors surface as validation errors where they would otherwise
// silently change semantics.

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryInt64(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, pkgerrors.NewValidationError(name + " must be RFC 3339").
			WithDetails(map[string]interface{}{"value": raw})
	}
	return &t, nil
}

// parseFilters reads the subgraph filter parameters shared by the graph
// query endpoints.
func parseFilters(r *http.Request) (*ports.NodeFilters, error) {
	filters := &ports.NodeFilters{}
	configured := false

	if docTypes, ok := r.URL.Query()["docType"]; ok && len(docTypes) > 0 {
		filters.DocumentTypes = docTypes
		configured = true
	}
	if raw := r.URL.Query().Get("minAuthority"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return nil, pkgerrors.NewValidationError("minAuthority must be a number in [0,1]").
				WithDetails(map[string]interface{}{"value": raw})
		}
		filters.MinAuthority = &v
		configured = true
	}

	var err error
	if filters.PublishedAfter, err = queryTime(r, "publishedAfter"); err != nil {
		return nil, err
	}
	if filters.PublishedBefore, err = queryTime(r, "publishedBefore"); err != nil {
		return nil, err
	}
	if filters.VisitedAfter, err = queryTime(r, "visitedAfter"); err != nil {
		return nil, err
	}
	if filters.VisitedBefore, err = queryTime(r, "visitedBefore"); err != nil {
		return nil, err
	}
	if filters.PublishedAfter != nil || filters.PublishedBefore != nil ||
		filters.VisitedAfter != nil || filters.VisitedBefore != nil {
		configured = true
	}

	if !configured {
		return nil, nil
	}
	return filters, nil
}

// parseClusteringParams reads pathDepth and minClusterSize with the
// service defaults when absent.
func parseClusteringParams(r *http.Request) services.ClusteringParams {
	return services.ClusteringParams{
		PathDepth:      queryInt(r, "pathDepth", services.DefaultPathDepth),
		MinClusterSize: queryInt(r, "minClusterSize", services.DefaultMinClusterSize),
	}
}
