package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/lineauth/internal/handlers"
	"github.com/charlesng35/lineauth/internal/middleware"
)

func registerLineRoutes(router *gin.RouterGroup, deps Dependencies, authCookie middleware.CookieConfig) {
	lineHandler := handlers.NewLineHandler(deps.Flow, deps.Links, deps.Users, deps.JWT, authCookie)

	begin := []gin.HandlerFunc{lineHandler.Begin}
	if limits := deps.Config.RateLimit; limits.Enabled {
		begin = append([]gin.HandlerFunc{middleware.RateLimit(deps.RateStore, limits.Requests, limits.Window)}, begin...)
	}

	lineRoutes := router.Group("/line")
	{
		lineRoutes.GET("/", lineHandler.Callback)
		lineRoutes.GET("/:action", begin...)
		lineRoutes.POST("/disconnect", middleware.RequireUser(), lineHandler.Disconnect)
	}

	router.GET("/api/account/line", middleware.RequireUser(), lineHandler.Status)
}

func registerAccountRoutes(router *gin.RouterGroup, deps Dependencies, authCookie middleware.CookieConfig) {
	accountHandler := handlers.NewAccountHandler(deps.Sessions, authCookie)

	router.GET("/api/session/flash", accountHandler.Flash)
	router.POST("/logout", accountHandler.Logout)
}
