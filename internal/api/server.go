package api

import (
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"github.com/yizeng/gab/gin/gorm/stock-audit/docs"
	v1 "github.com/yizeng/gab/gin/gorm/stock-audit/internal/api/handler/v1"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/api/middleware"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/config"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository/dao"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/service"
)

// Backends are the stores the audit service runs on besides the database.
type Backends struct {
	Drafts   service.SessionStore
	Locker   service.Locker
	Notifier service.Notifier
}

type Server struct {
	Config  *config.AppConfig
	Router  *gin.Engine
	Service *service.AuditService
}

func NewServer(conf *config.AppConfig, db *gorm.DB, backends Backends) (*Server, error) {
	gin.SetMode(conf.Gin.Mode)
	engine := gin.New()

	s := &Server{
		Config: conf,
		Router: engine,
	}

	s.MountMiddlewares()

	auditHandler, err := s.initAuditHandler(db, backends)
	if err != nil {
		return nil, err
	}
	s.MountHandlers(auditHandler)

	return s, nil
}

func (s *Server) initAuditHandler(db *gorm.DB, backends Backends) (*v1.AuditHandler, error) {
	loc, err := s.Config.Audit.Location()
	if err != nil {
		return nil, err
	}

	inventoryRepo := repository.NewInventoryRepository(dao.NewInventoryDAO(db))
	auditRepo := repository.NewAuditRepository(
		dao.NewAuditDAO(db),
		repository.LedgerMode(s.Config.Audit.LedgerMode),
		s.Config.Audit.OptimisticRetries,
	)

	s.Service = service.NewAuditService(service.Deps{
		Inventory: inventoryRepo,
		Audits:    auditRepo,
		Drafts:    backends.Drafts,
		Locker:    backends.Locker,
		Notifier:  backends.Notifier,
	}, service.Options{
		AdvanceDelay:  s.Config.Audit.AutoAdvanceDelay,
		ApplyTimeout:  s.Config.Audit.ApplyTimeout,
		ApplyLockTTL:  s.Config.Audit.ApplyLockTTL,
		DraftLockTTL:  s.Config.Audit.DraftLockTTL,
		DraftLockWait: s.Config.Audit.DraftLockWait,
		Location:      loc,
	})

	return v1.NewAuditHandler(s.Service), nil
}

func (s *Server) MountMiddlewares() {
	// Logger and Recovery are needed unless we use gin.Default().
	s.Router.Use(gin.Logger())
	s.Router.Use(gin.Recovery())
	s.Router.Use(requestid.New())
	s.Router.Use(middleware.ConfigCORS(s.Config.API.AllowedCORSDomains))
}

func (s *Server) MountHandlers(auditHandler *v1.AuditHandler) {
	const basePath = "/api/v1"

	audits := s.Router.Group(basePath, middleware.NewAuthenticator(s.Config.API.JWTSigningKey).VerifyJWT())
	{
		audits.POST("/audit/session", auditHandler.HandleStartSession)
		audits.GET("/audit/session", auditHandler.HandleGetSession)
		audits.DELETE("/audit/session", auditHandler.HandleCancelSession)
		audits.PUT("/audit/session/group", auditHandler.HandleSelectGroup)
		audits.POST("/audit/session/entries/:entryID/match", auditHandler.HandleMarkMatched)
		audits.POST("/audit/session/entries/:entryID/mismatch", auditHandler.HandleMarkMismatched)
		audits.PUT("/audit/session/entries/:entryID/count", auditHandler.HandleSetCount)
		audits.PUT("/audit/session/entries/:entryID/reason", auditHandler.HandleSetReason)
		audits.POST("/audit/session/entries/:entryID/reason/edit", auditHandler.HandleEditReason)
		audits.POST("/audit/session/undo", auditHandler.HandleUndo)
		audits.POST("/audit/session/review", auditHandler.HandleReview)
		audits.POST("/audit/session/reopen", auditHandler.HandleReopen)
		audits.POST("/audit/session/apply", auditHandler.HandleApply)
		audits.GET("/audit/kpi", auditHandler.HandleGetKPI)
		audits.GET("/audit/history", auditHandler.HandleGetHistory)
		audits.GET("/audit/history/export", auditHandler.HandleExportHistory)
		audits.GET("/audit/applies/:sessionID", auditHandler.HandleVerifyApply)
	}

	s.Router.GET("/", v1.HandleHealthcheck)

	// Setup Swagger UI.
	docs.SwaggerInfo.Host = s.Config.API.BaseURL
	docs.SwaggerInfo.BasePath = basePath
	docs.SwaggerInfo.Title = "Stock audit API"
	docs.SwaggerInfo.Description = "Inventory audit sessions and stock reconciliation."
	docs.SwaggerInfo.Version = "1.0"
	s.Router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
}
