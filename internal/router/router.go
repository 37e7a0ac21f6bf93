package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/desk-sync/api"
	"github.com/psds-microservice/desk-sync/internal/handler"
	"github.com/psds-microservice/desk-sync/internal/hub"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func New(ticketHandler *handler.TicketHandler, sessionHandler *handler.SessionHandler, ws *hub.Hub) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(paths.PathHealth, gin.WrapF(handler.Health))
	r.GET(paths.PathReady, gin.WrapF(handler.Ready))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	r.GET("/ws", func(c *gin.Context) { ws.Serve(c.Writer, c.Request) })

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tickets", ticketHandler.List)
		v1.POST("/tickets", ticketHandler.Create)
		v1.GET("/tickets/:id", ticketHandler.Get)
		v1.PUT("/tickets/:id", ticketHandler.Update)
		v1.GET("/tickets/:id/messages", ticketHandler.ListMessages)
		v1.POST("/tickets/:id/messages", ticketHandler.SendMessage)
		v1.PUT("/tickets/:id/profile", ticketHandler.UpdateProfile)
		v1.POST("/tickets/:id/profile/approve", ticketHandler.ApproveProfile)
		v1.POST("/tickets/:id/profile/reject", ticketHandler.RejectProfile)
		v1.POST("/tickets/:id/select", ticketHandler.Select)
		v1.POST("/tickets/:id/typing", ticketHandler.Typing)
		v1.POST("/tickets/:id/posts", ticketHandler.AddPost)
		v1.POST("/tickets/:id/posts/:postID/comments", ticketHandler.AddComment)

		v1.POST("/sessions/init", sessionHandler.Init)
		v1.POST("/sessions/:id/messages", sessionHandler.SendMessage)
		v1.POST("/sessions/:id/upload", sessionHandler.Upload)
		v1.POST("/sessions/:id/profile", sessionHandler.SubmitProfile)
		v1.POST("/sessions/:id/typing", sessionHandler.Typing)
	}

	return r
}
