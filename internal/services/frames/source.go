package frames

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/helpers"
)

var (
	ErrNoStream     = errors.New("source opened but yielded no frame")
	ErrNoConnection = errors.New("cannot connect to source")
	ErrDecode       = errors.New("cannot decode source image")
	ErrTimeout      = errors.New("frame acquisition timed out")
)

// maxReadAttempts bounds how many packets are read before a stream is declared empty
const maxReadAttempts = 5

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true,
}

// Source decodes a single frame from a URI
type Source interface {
	Acquire(ctx context.Context, uri string) (gocv.Mat, error)
}

// CaptureSource acquires frames with OpenCV: still images through IMRead,
// everything else (files, rtsp, http) through VideoCapture.
type CaptureSource struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCaptureSource creates a capture source. The RTSP transport is handed to the
// FFmpeg backend through OPENCV_FFMPEG_CAPTURE_OPTIONS unless already set.
func NewCaptureSource(cfg *config.Config) *CaptureSource {
	if cfg.RTSPTransport != "" && os.Getenv("OPENCV_FFMPEG_CAPTURE_OPTIONS") == "" {
		os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", "rtsp_transport;"+cfg.RTSPTransport)
	}
	return &CaptureSource{
		timeout: cfg.AcquireTimeout,
		logger:  log.With().Str("component", "frame_source").Logger(),
	}
}

type acquireResult struct {
	mat gocv.Mat
	err error
}

// Acquire returns the first decodable frame of uri. On error the returned Mat must not be used.
func (s *CaptureSource) Acquire(ctx context.Context, uri string) (gocv.Mat, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan acquireResult, 1)
	go func() {
		mat, err := s.decode(uri)
		done <- acquireResult{mat: mat, err: err}
	}()

	select {
	case r := <-done:
		return r.mat, r.err
	case <-ctx.Done():
		// The decoder cannot be interrupted; release its frame once it finishes
		go func() {
			if r := <-done; r.err == nil {
				r.mat.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gocv.Mat{}, fmt.Errorf("%w: %s", ErrTimeout, uri)
		}
		return gocv.Mat{}, ctx.Err()
	}
}

func (s *CaptureSource) decode(uri string) (gocv.Mat, error) {
	target := strings.TrimPrefix(uri, "file://")
	if imageExtensions[strings.ToLower(filepath.Ext(target))] {
		return s.readImage(target)
	}
	return s.readStream(target)
}

func (s *CaptureSource) readImage(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %s: %v", ErrNoConnection, path, err)
	}
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrDecode, path)
	}
	return img, nil
}

func (s *CaptureSource) readStream(target string) (gocv.Mat, error) {
	s.logger.Debug().Str("uri", target).Msg("Opening video capture")

	cap, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %s: %v", ErrNoConnection, target, err)
	}
	defer cap.Close()

	if !cap.IsOpened() {
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrNoConnection, target)
	}
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	img := gocv.NewMat()
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		if ok := cap.Read(&img); ok && !img.Empty() {
			break
		}
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrNoStream, target)
	}

	if img.Channels() != 3 {
		bgr := helpers.ToBGR(img)
		img.Close()
		img = bgr
	}

	s.logger.Debug().
		Str("uri", target).
		Int("width", img.Cols()).
		Int("height", img.Rows()).
		Msg("Acquired frame")
	return img, nil
}
