// Package cohorts exposes the cohort operations over HTTP. The handlers are
// thin: parse, call the engine, map the error taxonomy to status codes.
package cohorts

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	svc "github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts"
	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts/domain"
)

type Handler struct {
	engine *svc.Engine
	log    *zap.Logger
}

// Register mounts the cohort routes on the given group.
func Register(rg *gin.RouterGroup, engine *svc.Engine, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{engine: engine, log: log}

	rg.POST("", h.create)
	rg.GET("/:id", h.metadata)
	rg.GET("/:id/data", h.data)
	rg.GET("/:id/stats", h.stats)
	rg.GET("/:id/distribution/:variable", h.distribution)
	rg.GET("/:id/audit", h.auditRecord)
}

// RegisterCompare mounts the comparison route on the API root group.
func RegisterCompare(rg *gin.RouterGroup, engine *svc.Engine, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{engine: engine, log: log}
	rg.GET("/comparisons", h.compare)
}

func (h *Handler) create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "name and query are required"})
		return
	}

	handle, err := h.engine.CreateCohort(c.Request.Context(), req.Name, req.Description, req.Query, req.CreatedBy)
	if err != nil {
		h.fail(c, err)
		return
	}
	meta, err := handle.Metadata(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	members, err := handle.Data(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "cohort": cohortResp{
		CohortDefinitionID: handle.ID(),
		Metadata:           meta,
		Members:            len(members),
	}})
}

func (h *Handler) metadata(c *gin.Context) {
	id, ok := h.cohortID(c)
	if !ok {
		return
	}
	meta, err := h.engine.Cohort(id).Metadata(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if meta == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown cohort"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "metadata": meta})
}

func (h *Handler) data(c *gin.Context) {
	id, ok := h.cohortID(c)
	if !ok {
		return
	}
	members, err := h.engine.Cohort(id).Data(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "cohort_definition_id": id, "members": members})
}

// stats serves basic stats by default and per-variable stats when the
// variable query parameter is present.
func (h *Handler) stats(c *gin.Context) {
	id, ok := h.cohortID(c)
	if !ok {
		return
	}
	handle := h.engine.Cohort(id)

	if variable := c.Query("variable"); variable != "" {
		result, err := handle.VariableStats(c.Request.Context(), variable)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "stats": variableResp{
			CohortDefinitionID: id,
			Variable:           variable,
			Result:             result,
		}})
		return
	}

	stats, err := handle.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "stats": statsResp{CohortDefinitionID: id, Stats: stats}})
}

func (h *Handler) distribution(c *gin.Context) {
	id, ok := h.cohortID(c)
	if !ok {
		return
	}
	variable := c.Param("variable")
	result, err := h.engine.Cohort(id).Distribution(c.Request.Context(), variable)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "distribution": variableResp{
		CohortDefinitionID: id,
		Variable:           variable,
		Result:             result,
	}})
}

// auditRecord serves the cohort's stored creation record from the audit
// trail. Expired, never-written and auditing-disabled all look the same to
// the caller: no record.
func (h *Handler) auditRecord(c *gin.Context) {
	id, ok := h.cohortID(c)
	if !ok {
		return
	}
	ev, err := h.engine.AuditRecord(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "no audit record for cohort"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "record": ev})
}

func (h *Handler) compare(c *gin.Context) {
	left, err1 := strconv.ParseInt(c.Query("left"), 10, 64)
	right, err2 := strconv.ParseInt(c.Query("right"), 10, 64)
	if err1 != nil || err2 != nil || left <= 0 || right <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "left and right must be positive cohort ids"})
		return
	}
	res, err := h.engine.CompareCohorts(c.Request.Context(), left, right)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "comparison": compareResp{
		Left:  statsResp{CohortDefinitionID: left, Stats: res[left]},
		Right: statsResp{CohortDefinitionID: right, Stats: res[right]},
	}})
}

func (h *Handler) cohortID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "cohort id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// fail maps the domain error taxonomy to HTTP status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		confErr      *domain.ConfigurationError
		connErr      *domain.ConnectionError
		queryErr     *domain.QueryError
		malformedErr *domain.MalformedResultError
		integrityErr *domain.IntegrityError
		variableErr  *domain.UnsupportedVariableError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &variableErr), errors.As(err, &malformedErr), errors.As(err, &queryErr):
		status = http.StatusBadRequest
	case errors.As(err, &integrityErr):
		status = http.StatusConflict
	case errors.As(err, &confErr):
		status = http.StatusServiceUnavailable
	case errors.As(err, &connErr):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.log.Error("cohort operation failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}
