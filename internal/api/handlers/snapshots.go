package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"streamocr-worker-go/internal/helpers"
	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/services/frames"
	"streamocr-worker-go/internal/services/source"
)

const jpegContentType = "image/jpeg"

type SnapshotHandler struct {
	manager        *source.Manager
	source         frames.Source
	acquireTimeout time.Duration
	jpegQuality    int
}

func NewSnapshotHandler(manager *source.Manager, src frames.Source, acquireTimeout time.Duration, jpegQuality int) *SnapshotHandler {
	return &SnapshotHandler{
		manager:        manager,
		source:         src,
		acquireTimeout: acquireTimeout,
		jpegQuality:    jpegQuality,
	}
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.DefaultQuery(key, "false"))
	return err == nil && v
}

func (h *SnapshotHandler) grab(c *gin.Context, msg string, fn func(ctx context.Context, sh *source.Handler) ([]byte, error)) {
	sh, err := h.manager.Get(c.Param("id"))
	if err != nil {
		respondError(c, err, "Source not found")
		return
	}
	data, err := fn(c.Request.Context(), sh)
	if err != nil {
		respondError(c, err, msg)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, jpegContentType, data)
}

// GetRawFrame returns the unprocessed frame
// @Summary Get raw frame
// @Tags snapshots
// @Param id path string true "Source ID"
// @Param fresh query bool false "Bypass the frame cache"
// @Produce jpeg
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /sources/{id}/snapshot/raw [get]
func (h *SnapshotHandler) GetRawFrame(c *gin.Context) {
	bust := queryBool(c, "fresh")
	h.grab(c, "Failed to grab raw frame", func(ctx context.Context, sh *source.Handler) ([]byte, error) {
		return sh.GrabFrameRaw(ctx, bust)
	})
}

// GetFrame returns the processed frame with region boxes
// @Summary Get processed frame
// @Description Processed frame with region boxes; with ocr=true the boxes carry the last recognized text
// @Tags snapshots
// @Param id path string true "Source ID"
// @Param ocr query bool false "Overlay OCR results"
// @Param fresh query bool false "Bypass the frame cache"
// @Produce jpeg
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /sources/{id}/snapshot/frame [get]
func (h *SnapshotHandler) GetFrame(c *gin.Context) {
	withResults := queryBool(c, "ocr")
	bust := queryBool(c, "fresh")
	h.grab(c, "Failed to grab frame", func(ctx context.Context, sh *source.Handler) ([]byte, error) {
		return sh.GrabFrame(ctx, withResults, bust)
	})
}

// GetComputedFrame returns the composite of every region crop
// @Summary Get composite image
// @Tags snapshots
// @Param id path string true "Source ID"
// @Param fresh query bool false "Bypass the frame cache"
// @Produce jpeg
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /sources/{id}/snapshot/computed [get]
func (h *SnapshotHandler) GetComputedFrame(c *gin.Context) {
	bust := queryBool(c, "fresh")
	h.grab(c, "Failed to grab composite", func(ctx context.Context, sh *source.Handler) ([]byte, error) {
		return sh.GrabComputedFrame(ctx, bust)
	})
}

// GetThumbnail returns the cached thumbnail
// @Summary Get thumbnail
// @Tags snapshots
// @Param id path string true "Source ID"
// @Produce jpeg
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /sources/{id}/thumbnail [get]
func (h *SnapshotHandler) GetThumbnail(c *gin.Context) {
	h.grab(c, "Failed to grab thumbnail", func(ctx context.Context, sh *source.Handler) ([]byte, error) {
		return sh.GrabThumbnail(ctx)
	})
}

// DecodePreviewURI decodes a base64url path segment, padded or not
func DecodePreviewURI(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return "", fmt.Errorf("invalid base64url uri: %w", err)
	}
	uri := strings.TrimSpace(string(raw))
	if uri == "" {
		return "", fmt.Errorf("empty uri")
	}
	return uri, nil
}

// Preview grabs one frame from an arbitrary URI
// @Summary Preview a URI
// @Description Acquire one frame from a base64url-encoded URI without configuring a source
// @Tags snapshots
// @Param uri path string true "base64url-encoded URI"
// @Produce jpeg
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /preview/{uri} [get]
func (h *SnapshotHandler) Preview(c *gin.Context) {
	uri, err := DecodePreviewURI(c.Param("uri"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	if h.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.acquireTimeout)
		defer cancel()
	}

	mat, err := h.source.Acquire(ctx, uri)
	if err != nil {
		respondError(c, err, "Preview acquisition failed")
		return
	}
	defer mat.Close()

	data, err := helpers.EncodeJPEG(mat, h.jpegQuality)
	if err != nil {
		respondError(c, err, "Preview encoding failed")
		return
	}
	logging.Debug(c).Str("uri", uri).Int("bytes", len(data)).Msg("Preview served")
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, jpegContentType, data)
}
