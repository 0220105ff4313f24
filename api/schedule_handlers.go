package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tasksync/pkg/models"
)

// ListSchedules handles GET /api/schedules
func (s *Server) ListSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schedules": s.scheduler.ListSchedules()})
}

// GetSchedulerStats handles GET /api/schedules/stats
func (s *Server) GetSchedulerStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.GetStats())
}

// GetSchedule handles GET /api/schedules/:id
func (s *Server) GetSchedule(c *gin.Context) {
	schedule, err := s.scheduler.GetSchedule(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// EnableSchedule handles POST /api/schedules/:id/enable
func (s *Server) EnableSchedule(c *gin.Context) {
	if err := s.scheduler.EnableSchedule(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "schedule enabled"})
}

// DisableSchedule handles POST /api/schedules/:id/disable
func (s *Server) DisableSchedule(c *gin.Context) {
	if err := s.scheduler.DisableSchedule(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "schedule disabled"})
}

// RunScheduleNow handles POST /api/schedules/:id/run
func (s *Server) RunScheduleNow(c *gin.Context) {
	if err := s.scheduler.RunNow(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "schedule execution started"})
}
