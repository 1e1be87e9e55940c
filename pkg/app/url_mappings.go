package app

import (
	"net/http"

	"github.com/osvaldoandrade/ebookpdf/internal/controllers"
	"github.com/osvaldoandrade/ebookpdf/internal/middleware"
	"github.com/osvaldoandrade/ebookpdf/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	cfg := app.Config
	e := app.Engine

	e.GET("/healthz", controllers.NewHealthController(app.Persistence, cfg.ConverterBin).Handle)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))

	e.POST("/create",
		middleware.AuthMiddleware(app.Guard, auth.OpConvert),
		middleware.AdmitConversions(app.Admitter, admissionPolicy(cfg)),
		controllers.NewCreateJobController(app.Conversions, cfg.MaxUploadBytes, cfg.TrustProxyHeaders).Handle,
	)

	history := e.Group("/v1", middleware.AuthMiddleware(app.Guard, auth.OpHistory))
	{
		history.GET("/jobs", controllers.NewListJobsController(app.Conversions).Handle)
		history.GET("/jobs/:id", controllers.NewGetJobController(app.Conversions).Handle)
	}

	// Everything else is the public directory: the upload page and the
	// generated PDFs. Directory listings stay off so artifacts are only
	// reachable through the link handed to their requester.
	static := http.FileServer(gin.Dir(cfg.PublicDir, false))
	e.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		static.ServeHTTP(c.Writer, c.Request)
	})
}
