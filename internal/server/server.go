package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	assignmentdomain "github.com/smallbiznis/cooptariff/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/cooptariff/internal/catalog/domain"
	"github.com/smallbiznis/cooptariff/internal/config"
	"github.com/smallbiznis/cooptariff/internal/expiry"
	"github.com/smallbiznis/cooptariff/internal/observability"
	obsmiddleware "github.com/smallbiznis/cooptariff/internal/observability/logger"
	obstracing "github.com/smallbiznis/cooptariff/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// readSweeper is the expiry pass run before list endpoints answer.
type readSweeper interface {
	Run(ctx context.Context) ([]expiry.Result, error)
}

type Server struct {
	engine      *gin.Engine
	log         *zap.Logger
	ledger      *config.LedgerConfigHolder
	catalog     catalogdomain.Catalog
	assignments assignmentdomain.Service
	auditSvc    auditdomain.Service
	sweeper     readSweeper
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Log         *zap.Logger
	Ledger      *config.LedgerConfigHolder
	Catalog     catalogdomain.Catalog
	Assignments assignmentdomain.Service
	AuditSvc    auditdomain.Service
	Sweeper     *expiry.Sweeper `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		log:         p.Log.Named("http"),
		ledger:      p.Ledger,
		catalog:     p.Catalog,
		assignments: p.Assignments,
		auditSvc:    p.AuditSvc,
	}
	if p.Sweeper != nil {
		svc.sweeper = p.Sweeper
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Services --------
	api.GET("/services", s.SweepOnRead(), s.ListServices)
	api.POST("/services", s.CreateService)
	api.GET("/services/:id", s.SweepOnRead(), s.GetService)
	api.PATCH("/services/:id", s.UpdateService)
	api.POST("/services/:id/toggle", s.ToggleService)
	api.GET("/services/:id/tariffs", s.SweepOnRead(), s.ListServiceTariffs)

	// -------- Tariffs --------
	api.GET("/tariffs/:id", s.GetTariff)
	api.POST("/tariffs/:id/replace", s.ReplaceRate)
	api.DELETE("/tariffs/:id", s.DeleteTariff)

	// -------- Assignments --------
	api.GET("/assignments", s.SweepOnRead(), s.ListAssignments)
	api.POST("/assignments", s.CreateAssignment)
	api.GET("/assignments/:id", s.SweepOnRead(), s.GetAssignment)
	api.PATCH("/assignments/:id", s.UpdateAssignment)
	api.DELETE("/assignments/:id", s.DeleteAssignment)
	api.POST("/assignments/:id/toggle", s.ToggleAssignment)
	api.GET("/assignments/:id/tariffs", s.SweepOnRead(), s.ListAssignmentTariffs)

	// -------- Assignment tariffs --------
	api.GET("/assignment-tariffs/orphaned", s.ListOrphanedTariffs)
	api.POST("/assignment-tariffs/:id/replace", s.ReplaceAssignmentRate)
	api.DELETE("/assignment-tariffs/:id", s.DeleteAssignmentTariff)

	// -------- Ledger events --------
	api.GET("/events", s.ListLedgerEvents)

	api.POST("/sweep", s.RunSweep)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
	s.engine.NoMethod(func(c *gin.Context) {
		AbortWithError(c, ErrMethodNotAllowed)
	})
}
