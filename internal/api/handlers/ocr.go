package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/models"
	"streamocr-worker-go/internal/services/results"
	"streamocr-worker-go/internal/services/scheduler"
	"streamocr-worker-go/internal/services/source"
)

const defaultLogLimit = 100

// JobLister lists the scheduled OCR jobs
type JobLister interface {
	ListJobs() []scheduler.JobInfo
}

type OcrHandler struct {
	manager *source.Manager
	results *results.Store
	jobs    JobLister
	execLog *logging.ExecutionLog
}

func NewOcrHandler(manager *source.Manager, store *results.Store, jobs JobLister, execLog *logging.ExecutionLog) *OcrHandler {
	return &OcrHandler{manager: manager, results: store, jobs: jobs, execLog: execLog}
}

type RunResponse struct {
	SourceID string             `json:"source_id"`
	Outcome  string             `json:"outcome" example:"accepted"`
	Document models.OcrDocument `json:"document"`
}

// RunOcr triggers one OCR run
// @Summary Run OCR
// @Description Read every region box of the source and offer the reading to the result store
// @Tags ocr
// @Param id path string true "Source ID"
// @Produce json
// @Success 200 {object} RunResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /sources/{id}/ocr [post]
func (h *OcrHandler) RunOcr(c *gin.Context) {
	id := c.Param("id")
	res, err := h.manager.RunOcr(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "OCR run failed")
		return
	}
	logging.Info(c).
		Str("outcome", string(res.Outcome)).
		Float64("value", res.Document.Aggregate.Value).
		Msg("OCR run finished")
	c.JSON(http.StatusOK, RunResponse{SourceID: id, Outcome: string(res.Outcome), Document: res.Document})
}

// GetResult returns the stored document of a source
// @Summary Get stored result
// @Tags ocr
// @Param id path string true "Source ID"
// @Produce json
// @Success 200 {object} models.OcrDocument
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id}/result [get]
func (h *OcrHandler) GetResult(c *gin.Context) {
	id := c.Param("id")
	if !h.manager.Has(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "source not found: " + id})
		return
	}
	doc, err := h.results.Document(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to read result")
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no result stored for source " + id})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListResults returns every stored document keyed by source id
// @Summary List stored results
// @Tags ocr
// @Produce json
// @Success 200 {object} map[string]models.OcrDocument
// @Router /results [get]
func (h *OcrHandler) ListResults(c *gin.Context) {
	docs, err := h.results.Documents(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to read results")
		return
	}
	c.JSON(http.StatusOK, docs)
}

// ListJobs returns the scheduled jobs
// @Summary List scheduled jobs
// @Tags ocr
// @Produce json
// @Success 200 {array} scheduler.JobInfo
// @Router /jobs [get]
func (h *OcrHandler) ListJobs(c *gin.Context) {
	jobs := h.jobs.ListJobs()
	if jobs == nil {
		jobs = []scheduler.JobInfo{}
	}
	c.JSON(http.StatusOK, jobs)
}

// ListLogs returns the newest execution log entries of a source
// @Summary List execution logs
// @Tags ocr
// @Param id path string true "Source ID"
// @Param limit query int false "Maximum entries" default(100)
// @Produce json
// @Success 200 {array} logging.ExecutionEntry
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id}/logs [get]
func (h *OcrHandler) ListLogs(c *gin.Context) {
	id := c.Param("id")
	if !h.manager.Has(id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "source not found: " + id})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLogLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		return
	}
	entries, err := h.execLog.List(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err, "Failed to read execution logs")
		return
	}
	if entries == nil {
		entries = []logging.ExecutionEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
