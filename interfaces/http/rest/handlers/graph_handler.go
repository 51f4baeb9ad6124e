package handlers

import (
	"net/http"

	"navgraph-backend/application/ports"
	"navgraph-backend/application/services"
	"navgraph-backend/domain/core/entities"
	"navgraph-backend/pkg/common"
	"navgraph-backend/pkg/utils"

	pkgerrors "navgraph-backend/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Subgraph view modes
const (
	ModeConnected = "connected"
	ModeAll       = "all"
	ModeClustered = "clustered"
)

// RepairTokenHeader carries the privileged token for structure repair
const RepairTokenHeader = "X-Repair-Token"

const maxBodyBytes = 1 << 20

// GraphHandler serves the navigation-graph query surface. The structure
// endpoint is privileged; the router guards it with the repair token.
type GraphHandler struct {
	graph      *services.NavigationGraph
	clustering *services.ClusteringService
	structure  *services.StructureBuilder
	logger     *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(
	graph *services.NavigationGraph,
	clustering *services.ClusteringService,
	structure *services.StructureBuilder,
	logger *zap.Logger,
) *GraphHandler {
	return &GraphHandler{
		graph:      graph,
		clustering: clustering,
		structure:  structure,
		logger:     logger,
	}
}

// GetGraph handles GET /graph. Mode selects the view: connected is a
// bounded BFS from the start node, all includes isolated nodes, clustered
// returns the meta-graph.
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = ModeConnected
	}

	switch mode {
	case ModeConnected:
		h.getConnectedGraph(w, r)
	case ModeAll:
		h.getFullGraph(w, r)
	case ModeClustered:
		h.GetMetaGraph(w, r)
	default:
		common.RespondAppError(w, pkgerrors.NewValidationError("unknown mode").
			WithDetails(map[string]interface{}{"mode": mode}))
	}
}

func (h *GraphHandler) getConnectedGraph(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	result, err := h.graph.GetSubgraph(r.Context(), ports.SubgraphOptions{
		StartNode: r.URL.Query().Get("startNode"),
		MaxDepth:  queryInt(r, "maxDepth", 0),
		MaxNodes:  queryInt(r, "maxNodes", 0),
		Filters:   filters,
	})
	if err != nil {
		h.logger.Error("Failed to extract subgraph", zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

// getFullGraph returns every node, isolated ones included, capped by
// maxNodes in insertion order.
func (h *GraphHandler) getFullGraph(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	maxNodes := queryInt(r, "maxNodes", 0)
	if maxNodes <= 0 {
		maxNodes = 500
	}

	all, err := h.graph.GetAllNodes(r.Context())
	if err != nil {
		h.logger.Error("Failed to load graph", zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	stats, err := h.graph.GetStatistics(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	included := make(map[string]struct{})
	nodes := make([]*entities.Node, 0, maxNodes)
	for _, node := range all {
		if len(nodes) >= maxNodes {
			break
		}
		if !filters.Matches(node) {
			continue
		}
		included[node.URL] = struct{}{}
		nodes = append(nodes, node)
	}

	edgesReturned := 0
	for _, node := range nodes {
		for _, child := range node.Children {
			if _, ok := included[child]; ok {
				edgesReturned++
			}
		}
	}

	common.RespondJSON(w, http.StatusOK, &ports.SubgraphResult{
		Nodes:   nodes,
		RootURL: stats.RootURL,
		Metadata: ports.SubgraphMetadata{
			TotalNodesInGraph: stats.TotalNodes,
			NodesReturned:     len(nodes),
			TotalEdgesInGraph: stats.TotalEdges,
			EdgesReturned:     edgesReturned,
		},
	})
}

// GetMetaGraph handles GET /graph/meta
func (h *GraphHandler) GetMetaGraph(w http.ResponseWriter, r *http.Request) {
	meta, err := h.clustering.CreateMetaGraph(r.Context(), parseClusteringParams(r))
	if err != nil {
		h.logger.Error("Failed to build meta-graph", zap.Error(err))
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, meta)
}

// GetCluster handles GET /graph/cluster/{clusterID}. The lookup must
// repeat the clustering parameters that produced the id.
func (h *GraphHandler) GetCluster(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "clusterID")
	if clusterID == "" {
		common.RespondAppError(w, pkgerrors.NewValidationError("cluster id is required"))
		return
	}

	params := parseClusteringParams(r)
	cluster, err := h.clustering.GetCluster(r.Context(), params, clusterID)
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	subgraph, err := h.clustering.GetClusterSubgraph(r.Context(),
		cluster,
		queryInt(r, "maxNodes", 0),
		queryInt(r, "maxDepth", 0),
	)
	if err != nil {
		h.logger.Error("Failed to expand cluster",
			zap.String("clusterId", clusterID),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"cluster":  cluster,
		"subgraph": subgraph,
	})
}

// GetVisualization handles GET /graph/visualization
func (h *GraphHandler) GetVisualization(w http.ResponseWriter, r *http.Request) {
	meta, err := h.clustering.CreateMetaGraph(r.Context(), parseClusteringParams(r))
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	layout := r.URL.Query().Get("layout")
	if layout == "" {
		layout = services.LayoutGrid
	}
	data, err := h.clustering.GenerateVisualizationData(meta, services.VisualizationOptions{
		Layout:      layout,
		Width:       queryInt(r, "width", 0),
		Height:      queryInt(r, "height", 0),
		NodeSpacing: queryInt(r, "nodeSpacing", 0),
		Iterations:  queryInt(r, "iterations", 0),
		Seed:        queryInt64(r, "seed", 0),
	})
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, data)
}

// Export handles GET /graph/export
func (h *GraphHandler) Export(w http.ResponseWriter, r *http.Request) {
	meta, err := h.clustering.CreateMetaGraph(r.Context(), parseClusteringParams(r))
	if err != nil {
		common.RespondAppError(w, err)
		return
	}

	opts := services.ExportOptions{
		IncludeMembers: r.URL.Query().Get("includeMembers") == "true",
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = services.ExportFormatJSON
	}
	switch format {
	case services.ExportFormatJSON:
		payload, err := h.clustering.ExportJSON(meta, opts)
		if err != nil {
			common.RespondAppError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="metagraph.json"`)
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	case services.ExportFormatGraphML:
		payload, err := h.clustering.ExportGraphML(meta, opts)
		if err != nil {
			common.RespondAppError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set("Content-Disposition", `attachment; filename="metagraph.graphml"`)
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	default:
		common.RespondAppError(w, pkgerrors.NewValidationError("unknown export format").
			WithDetails(map[string]interface{}{"format": format}))
	}
}

// BuildStructure handles POST /graph/structure
func (h *GraphHandler) BuildStructure(w http.ResponseWriter, r *http.Request) {
	var req BuildStructureRequest
	if err := common.ParseJSONBody(w, r, &req, maxBodyBytes); err != nil {
		common.RespondAppError(w, pkgerrors.NewValidationError("invalid request body").WithCause(err))
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		common.RespondAppError(w, err)
		return
	}

	result, err := h.structure.BuildStructure(r.Context(), services.BuildStructureOptions{
		Strategy:         req.Strategy,
		MaxDepth:         req.MaxDepth,
		MinGroupSize:     req.MinGroupSize,
		SetRootIfMissing: req.SetRootIfMissing,
	})
	if err != nil {
		h.logger.Error("Structure repair failed",
			zap.String("strategy", req.Strategy),
			zap.Error(err),
		)
		common.RespondAppError(w, err)
		return
	}

	h.logger.Info("Structure repair completed",
		zap.String("strategy", req.Strategy),
		zap.Int("relationshipsCreated", result.RelationshipsCreated),
		zap.Int("groupsCreated", result.GroupsCreated),
		zap.Int("failures", len(result.Failures)),
	)
	common.RespondJSON(w, http.StatusOK, result)
}

// GetHealth handles GET /graph/health. Always 200; degradation is in the
// body.
func (h *GraphHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.graph.GetStatistics(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, assessHealth(stats))
}

// GetStatistics handles GET /graph/statistics
func (h *GraphHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.graph.GetStatistics(r.Context())
	if err != nil {
		common.RespondAppError(w, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, stats)
}
