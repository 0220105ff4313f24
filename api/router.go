package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"tasksync/pkg/models"
	"tasksync/pkg/providers/notion"
	"tasksync/pkg/scheduler"
	"tasksync/pkg/state"
	tsync "tasksync/pkg/sync"
	"tasksync/pkg/task"
)

// UserHeader carries the caller identity established by the upstream
// OAuth proxy
const UserHeader = "X-User-Email"

const userKey = "user_email"

// Syncer runs sync passes, schema checks and container discovery
type Syncer interface {
	Run(ctx context.Context, email string) (*tsync.Result, error)
	CheckSchema(ctx context.Context, email, databaseID string) (notion.ValidationResult, error)
	ListContainers(ctx context.Context, email string, system task.System) ([]task.Container, error)
}

// Server holds the dependencies of the HTTP handlers
type Server struct {
	store     state.Store
	syncer    Syncer
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	// ReauthURL builds the Google re-authorization link returned with
	// AUTH_EXPIRED on the list side; optional
	ReauthURL func(state string) string
}

// NewServer creates the HTTP handler set
func NewServer(store state.Store, syncer Syncer, sched *scheduler.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     store,
		syncer:    syncer,
		scheduler: sched,
		logger:    logger,
	}
}

// SetupRouter creates and configures the Gin router
func SetupRouter(s *Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"} // Configure appropriately in production
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", UserHeader}
	router.Use(cors.New(config))

	router.GET("/health", HealthCheck)

	api := router.Group("/api")
	{
		user := api.Group("", requireUser())
		user.POST("/sync", s.Sync)
		user.GET("/user", s.GetUser)
		user.POST("/user", s.UpdateUser)
		user.DELETE("/user", s.DeleteUser)
		user.PUT("/user/credentials", s.PutCredentials)
		user.DELETE("/user/credentials/:system", s.DeleteCredential)
		user.GET("/tasklists", s.ListTasklists)
		user.GET("/databases", s.ListDatabases)
		user.GET("/databases/validate/:dbid", s.ValidateDatabase)

		if s.scheduler != nil {
			api.GET("/schedules", s.ListSchedules)
			api.GET("/schedules/stats", s.GetSchedulerStats)
			api.GET("/schedules/:id", s.GetSchedule)
			api.POST("/schedules/:id/enable", s.EnableSchedule)
			api.POST("/schedules/:id/disable", s.DisableSchedule)
			api.POST("/schedules/:id/run", s.RunScheduleNow)
		}
	}

	return router
}

// HealthCheck handles GET /health
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

type identity struct {
	Email string `header:"X-User-Email" binding:"required,email"`
}

// requireUser rejects requests without a valid caller identity
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var id identity
		if err := c.ShouldBindHeader(&id); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:       "missing or invalid " + UserHeader + " header",
				Remediation: models.RemediationReauth,
			})
			return
		}
		c.Set(userKey, state.NormalizeEmail(id.Email))
		c.Next()
	}
}

func userEmail(c *gin.Context) string {
	return c.GetString(userKey)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"user", userEmail(c),
		)
	}
}
