package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/models"
	"streamocr-worker-go/internal/services/source"
)

type SourceHandler struct {
	manager *source.Manager
}

func NewSourceHandler(manager *source.Manager) *SourceHandler {
	return &SourceHandler{manager: manager}
}

// SettingsRequest replaces the settings groups that are present
type SettingsRequest struct {
	ProcessingSettings *models.ProcessingSettings `json:"processing_settings,omitempty"`
	OcrSettings        *models.OcrSettings        `json:"ocr_settings,omitempty"`
	SchedulingSettings *models.SchedulingSettings `json:"scheduling_settings,omitempty"`
}

type SettingsResponse struct {
	ProcessingSettings models.ProcessingSettings `json:"processing_settings"`
	OcrSettings        models.OcrSettings        `json:"ocr_settings"`
	SchedulingSettings models.SchedulingSettings `json:"scheduling_settings"`
}

func settingsOf(c models.SourceConfig) SettingsResponse {
	return SettingsResponse{
		ProcessingSettings: c.ProcessingSettings,
		OcrSettings:        c.OcrSettings,
		SchedulingSettings: c.SchedulingSettings,
	}
}

// ListSources lists all sources
// @Summary List all sources
// @Description Get every configured source with its status and last aggregate
// @Tags sources
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /sources [get]
func (h *SourceHandler) ListSources(c *gin.Context) {
	handlers := h.manager.List()
	sources := make([]models.SourceResponse, 0, len(handlers))
	for _, sh := range handlers {
		sources = append(sources, h.manager.Describe(c.Request.Context(), sh))
	}
	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"count":   len(sources),
	})
}

// AddSource registers a new source
// @Summary Add a source
// @Description Register a stream or image source. An empty id is generated.
// @Tags sources
// @Accept json
// @Produce json
// @Param request body models.SourceConfig true "Source configuration"
// @Success 201 {object} models.SourceResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /sources [post]
func (h *SourceHandler) AddSource(c *gin.Context) {
	var req models.SourceConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		logging.Warn(c).Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	cfg, err := h.manager.Add(req)
	if err != nil {
		respondError(c, err, "Failed to add source")
		return
	}
	sh, err := h.manager.Get(cfg.ID)
	if err != nil {
		respondError(c, err, "Source added but failed to get details")
		return
	}

	logging.Info(c).Str("source_id", cfg.ID).Str("uri", cfg.URI).Msg("Source added successfully")
	c.JSON(http.StatusCreated, h.manager.Describe(c.Request.Context(), sh))
}

// GetSource gets source details
// @Summary Get source details
// @Tags sources
// @Param id path string true "Source ID"
// @Produce json
// @Success 200 {object} models.SourceResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id} [get]
func (h *SourceHandler) GetSource(c *gin.Context) {
	sh, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err, "Source not found")
		return
	}
	c.JSON(http.StatusOK, h.manager.Describe(c.Request.Context(), sh))
}

// UpdateSource replaces a source configuration
// @Summary Replace a source configuration
// @Tags sources
// @Accept json
// @Produce json
// @Param id path string true "Source ID"
// @Param request body models.SourceConfig true "Source configuration"
// @Success 200 {object} models.SourceResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id} [put]
func (h *SourceHandler) UpdateSource(c *gin.Context) {
	var req models.SourceConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		logging.Warn(c).Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	id := c.Param("id")
	if _, err := h.manager.Update(id, func(cfg *models.SourceConfig) { *cfg = req.Clone() }); err != nil {
		respondError(c, err, "Failed to update source")
		return
	}
	h.GetSource(c)
}

// RemoveSource deletes a source
// @Summary Remove a source
// @Description Remove a source with its job, stored result, thumbnail and logs
// @Tags sources
// @Param id path string true "Source ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id} [delete]
func (h *SourceHandler) RemoveSource(c *gin.Context) {
	if err := h.manager.Remove(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, "Failed to remove source")
		return
	}
	logging.Info(c).Msg("Source removed successfully")
	c.JSON(http.StatusOK, SuccessResponse{Message: "Source removed"})
}

// GetSettings returns the settings of a source
// @Summary Get source settings
// @Tags settings
// @Param id path string true "Source ID"
// @Produce json
// @Success 200 {object} SettingsResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id}/settings [get]
func (h *SourceHandler) GetSettings(c *gin.Context) {
	sh, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err, "Source not found")
		return
	}
	c.JSON(http.StatusOK, settingsOf(sh.Config()))
}

// SetSettings updates processing, OCR or scheduling settings
// @Summary Update source settings
// @Description Replace the settings groups present in the body. Scheduling changes re-register the cron job.
// @Tags settings
// @Accept json
// @Produce json
// @Param id path string true "Source ID"
// @Param request body SettingsRequest true "Settings"
// @Success 200 {object} SettingsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id}/settings [put]
func (h *SourceHandler) SetSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logging.Warn(c).Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	cfg, err := h.manager.Update(c.Param("id"), func(cfg *models.SourceConfig) {
		if req.ProcessingSettings != nil {
			cfg.ProcessingSettings = *req.ProcessingSettings
		}
		if req.OcrSettings != nil {
			cfg.OcrSettings = *req.OcrSettings
		}
		if req.SchedulingSettings != nil {
			cfg.SchedulingSettings = *req.SchedulingSettings
		}
	})
	if err != nil {
		respondError(c, err, "Failed to update settings")
		return
	}
	c.JSON(http.StatusOK, settingsOf(cfg))
}

// GetBoxes returns the region boxes of a source
// @Summary Get region boxes
// @Tags settings
// @Param id path string true "Source ID"
// @Produce json
// @Success 200 {array} models.RegionBox
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id}/boxes [get]
func (h *SourceHandler) GetBoxes(c *gin.Context) {
	sh, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err, "Source not found")
		return
	}
	boxes := sh.Config().RegionBoxes
	if boxes == nil {
		boxes = []models.RegionBox{}
	}
	c.JSON(http.StatusOK, boxes)
}

// SetBoxes replaces the region boxes of a source
// @Summary Replace region boxes
// @Tags settings
// @Accept json
// @Produce json
// @Param id path string true "Source ID"
// @Param request body []models.RegionBox true "Region boxes"
// @Success 200 {array} models.RegionBox
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id}/boxes [put]
func (h *SourceHandler) SetBoxes(c *gin.Context) {
	var boxes []models.RegionBox
	if err := c.ShouldBindJSON(&boxes); err != nil {
		logging.Warn(c).Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	cfg, err := h.manager.Update(c.Param("id"), func(cfg *models.SourceConfig) {
		cfg.RegionBoxes = boxes
	})
	if err != nil {
		respondError(c, err, "Failed to update region boxes")
		return
	}
	if cfg.RegionBoxes == nil {
		cfg.RegionBoxes = []models.RegionBox{}
	}
	c.JSON(http.StatusOK, cfg.RegionBoxes)
}
