package api

import "github.com/gin-gonic/gin"

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	sources := s.router.Group("/sources")
	{
		sources.GET("", s.sourceHandler.ListSources)
		sources.POST("", s.sourceHandler.AddSource)
		sources.GET("/:id", s.sourceHandler.GetSource)
		sources.PUT("/:id", s.sourceHandler.UpdateSource)
		sources.DELETE("/:id", s.sourceHandler.RemoveSource)

		sources.GET("/:id/settings", s.sourceHandler.GetSettings)
		sources.PUT("/:id/settings", s.sourceHandler.SetSettings)
		sources.GET("/:id/boxes", s.sourceHandler.GetBoxes)
		sources.PUT("/:id/boxes", s.sourceHandler.SetBoxes)

		sources.GET("/:id/snapshot/raw", s.snapshotHandler.GetRawFrame)
		sources.GET("/:id/snapshot/frame", s.snapshotHandler.GetFrame)
		sources.GET("/:id/snapshot/computed", s.snapshotHandler.GetComputedFrame)
		sources.GET("/:id/thumbnail", s.snapshotHandler.GetThumbnail)

		sources.POST("/:id/ocr", s.ocrHandler.RunOcr)
		sources.GET("/:id/result", s.ocrHandler.GetResult)
		sources.GET("/:id/logs", s.ocrHandler.ListLogs)
	}

	s.router.GET("/preview/:uri", s.snapshotHandler.Preview)
	s.router.GET("/results", s.ocrHandler.ListResults)
	s.router.GET("/jobs", s.ocrHandler.ListJobs)
	s.router.GET("/engines", s.systemHandler.ListEngines)

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}

	if s.deps.Events != nil {
		s.router.GET("/ws/streamstatus", gin.WrapH(s.deps.Events))
	}
}
