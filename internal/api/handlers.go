package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	svcerrors "github.com/opsknowledge/retrieval-service/internal/errors"
	"github.com/opsknowledge/retrieval-service/internal/transform"
)

// toolHandler adapts one of the dispatcher's named tools to an HTTP
// endpoint: request body (POST) or query string (GET) becomes the tool's
// params map, and the resulting Envelope is written with the matching
// HTTP status.
func (s *Server) toolHandler(toolName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, err := bindParams(c)
		if err != nil {
			writeError(c, svcerrors.New(svcerrors.KindValidation, "malformed request body"))
			return
		}

		env := s.dispatcher.Dispatch(c.Request.Context(), toolName, params)
		writeEnvelope(c, env)
	}
}

func bindParams(c *gin.Context) (map[string]interface{}, error) {
	if c.Request.Method == http.MethodGet {
		params := map[string]interface{}{}
		for key, values := range c.Request.URL.Query() {
			if len(values) == 0 {
				continue
			}
			params[key] = queryValue(values[0])
		}
		return params, nil
	}

	var params map[string]interface{}
	if c.Request.ContentLength == 0 {
		return map[string]interface{}{}, nil
	}
	if err := c.ShouldBindJSON(&params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

func queryValue(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// handleGetRunbook serves GET /runbooks/:id: a direct registry lookup
// rather than a scored search, since there's no query text to rank
// against.
func (s *Server) handleGetRunbook(c *gin.Context) {
	id := c.Param("id")
	env := s.dispatcher.GetRunbook(c.Request.Context(), id)
	writeEnvelope(c, env)
}

// handleGetProcedure serves GET /procedures/:id, where :id is
// "<runbook_id>:<step_id>" (runbook ids may themselves contain colons, so
// the step id is split off the end).
func (s *Server) handleGetProcedure(c *gin.Context) {
	id := c.Param("id")
	sep := strings.LastIndex(id, ":")
	if sep < 0 {
		writeError(c, svcerrors.New(svcerrors.KindValidation, "procedure id must be runbook_id:step_id"))
		return
	}

	params := map[string]interface{}{
		"runbook_id": id[:sep],
		"step_name":  id[sep+1:],
	}
	env := s.dispatcher.Dispatch(c.Request.Context(), "get_procedure", params)
	writeEnvelope(c, env)
}

// handleListSources serves GET /sources, forwarding ?include_health=true.
func (s *Server) handleListSources(c *gin.Context) {
	params, err := bindParams(c)
	if err != nil {
		writeError(c, svcerrors.New(svcerrors.KindValidation, "malformed query string"))
		return
	}
	env := s.dispatcher.Dispatch(c.Request.Context(), "list_sources", params)
	writeEnvelope(c, env)
}

// handleHealth reports aggregate adapter health alongside service liveness.
func (s *Server) handleHealth(c *gin.Context) {
	statuses := s.dispatcher.Registry().Health()

	healthy := true
	details := map[string]interface{}{}
	for name, st := range statuses {
		details[name] = st
		if st.Status == "unhealthy" {
			healthy = false
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"sources": details,
	})
}

// handleMetrics exposes the Prometheus registry in the standard text
// exposition format, via promhttp.
func (s *Server) handleMetrics(c *gin.Context) {
	metricsHandler.ServeHTTP(c.Writer, c.Request)
}

// handlePerformance summarizes per-adapter latency and success rate, the
// closest this service gets to a dashboard without a dedicated metrics
// backend query layer.
func (s *Server) handlePerformance(c *gin.Context) {
	adapters := s.dispatcher.Registry().List()

	summaries := make([]gin.H, 0, len(adapters))
	for _, a := range adapters {
		meta := a.GetMetadata()
		summaries = append(summaries, gin.H{
			"name":            meta.Name,
			"type":            meta.Type,
			"document_count":  meta.DocumentCount,
			"avg_response_ms": meta.AvgResponseTime,
			"success_rate":    meta.SuccessRate,
			"last_indexed":    meta.LastIndexed,
		})
	}

	c.JSON(http.StatusOK, gin.H{"adapters": summaries})
}

// writeEnvelope writes env with 200 on success or the status matching its
// error's Kind on failure.
func writeEnvelope(c *gin.Context, env *transform.Envelope) {
	if env.Success {
		c.JSON(http.StatusOK, env)
		return
	}

	status := http.StatusInternalServerError
	if env.Error != nil {
		status = statusForKind(svcerrors.Kind(env.Error.Code))
		if env.Error.RetryAfterMs > 0 {
			c.Header("Retry-After", strconv.FormatInt((env.Error.RetryAfterMs+999)/1000, 10))
		}
	}
	c.JSON(status, env)
}
