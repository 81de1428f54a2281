// Package api exposes the REST and websocket surface over the shared
// store. Everything the daemon does autonomously can also be driven or
// observed through these endpoints.
package api

import (
	"github.com/gin-gonic/gin"
)

// Router builds the gin engine with all routes bound.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/ws", s.hub.handleWS)

	api := r.Group("/api")
	{
		tasks := api.Group("/tasks")
		{
			tasks.POST("", s.createTask)
			tasks.GET("", s.listTasks)
			tasks.GET("/stats", s.taskStats)
			tasks.GET("/:id", s.getTask)
		}

		content := api.Group("/content")
		{
			content.POST("", s.ingestContent)
			content.GET("/recent", s.recentContent)
		}

		negotiations := api.Group("/negotiations")
		{
			negotiations.GET("", s.listNegotiations)
			negotiations.POST("", s.openNegotiation)
			negotiations.POST("/:id/respond", s.respondNegotiation)
		}

		predictions := api.Group("/predictions")
		{
			predictions.GET("", s.listPredictions)
			predictions.POST("/:id/flag", s.flagPrediction)
			predictions.POST("/:id/resolve", s.resolvePrediction)
		}

		api.GET("/findings", s.listFindings)
		api.GET("/usage/:agent", s.agentUsage)
		api.POST("/pipeline/run", s.runPipeline)
	}

	return r
}
