package http

import (
	"github.com/gin-gonic/gin"

	appsvc "inboxkb/internal/app"
	"inboxkb/internal/bootstrap"
	"inboxkb/internal/transport/http/handler"
	"inboxkb/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	contextBuilder := appsvc.NewContextBuilder(app.KBService)
	kbHandler := handler.NewKBHandler(app.KBService, app.DocumentService, contextBuilder)

	v1 := router.Group("/api/v1")
	kbGroup := v1.Group("/kb")
	kbGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	kbGroup.POST("/documents", kbHandler.Upload)
	kbGroup.GET("/documents", kbHandler.ListDocuments)
	kbGroup.GET("/documents/:id/status", kbHandler.DocumentStatus)
	kbGroup.POST("/documents/:id/reindex", kbHandler.Reindex)
	kbGroup.GET("/search", kbHandler.Search)
	kbGroup.GET("/context", kbHandler.Context)

	return router
}
