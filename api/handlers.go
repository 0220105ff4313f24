package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tasksync/pkg/models"
	"tasksync/pkg/providers/googletasks"
	"tasksync/pkg/providers/notion"
	"tasksync/pkg/state"
	tsync "tasksync/pkg/sync"
	"tasksync/pkg/task"
)

// Sync handles POST /api/sync
func (s *Server) Sync(c *gin.Context) {
	email := userEmail(c)

	// a pass runs to completion even if the client goes away
	ctx := context.WithoutCancel(c.Request.Context())
	start := time.Now()

	result, err := s.syncer.Run(ctx, email)
	if err != nil {
		s.clearRejected(ctx, email, err)
		s.respondSyncError(c, err)
		return
	}

	created := 0
	for _, d := range result.Report.Directions {
		created += d.Created
	}
	c.JSON(http.StatusOK, models.SyncResponse{
		PassID:   result.Report.PassID,
		User:     models.NewUserView(result.User),
		Created:  created,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	})
}

// clearRejected drops a stored credential the remote system refused
func (s *Server) clearRejected(ctx context.Context, email string, err error) {
	cleared, clearErr := tsync.InvalidateOnAuthFailure(ctx, s.store, email, err)
	if clearErr != nil {
		s.logger.Error("failed to clear rejected credential", "user", email, "error", clearErr)
	} else if cleared {
		s.logger.Info("cleared rejected credential", "user", email, "system", systemOf(err))
	}
}

func systemOf(err error) task.System {
	var syncErr *tsync.Error
	if errors.As(err, &syncErr) {
		return syncErr.System
	}
	return ""
}

func (s *Server) respondSyncError(c *gin.Context, err error) {
	var syncErr *tsync.Error
	if !errors.As(err, &syncErr) {
		s.logger.Error("unexpected sync error", "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error(), Kind: string(tsync.KindInternal), Remediation: models.RemediationContactSupport})
		return
	}

	resp := models.ErrorResponse{
		Error:  syncErr.Err.Error(),
		Kind:   string(syncErr.Kind),
		System: string(syncErr.System),
	}
	if syncErr.Report != nil {
		resp.PassID = syncErr.Report.PassID
	}

	status := http.StatusInternalServerError
	switch syncErr.Kind {
	case tsync.KindNotConfigured:
		status = http.StatusBadRequest
		resp.Remediation = models.RemediationAmendConfiguration
	case tsync.KindAuthExpired:
		status = http.StatusUnauthorized
		resp.Remediation = models.RemediationReauth
		if syncErr.System == task.SystemList && s.ReauthURL != nil {
			resp.ReauthURL = s.ReauthURL(userEmail(c))
		}
	case tsync.KindSchemaInvalid:
		status = http.StatusUnprocessableEntity
		resp.Remediation = models.RemediationAmendConfiguration
		resp.Issues = syncErr.Issues
	case tsync.KindExternalTransient:
		status = http.StatusBadGateway
		resp.Remediation = models.RemediationRetry
		if task.IsFatal(err) {
			// a missing list or database will not come back on retry
			resp.Remediation = models.RemediationAmendConfiguration
		}
	case tsync.KindPartialSync:
		status = http.StatusBadGateway
		resp.Remediation = models.RemediationContactSupport
		if syncErr.Report != nil {
			resp.Orphaned = make(map[string][]string)
			for system, ids := range syncErr.Report.Orphaned() {
				resp.Orphaned[string(system)] = ids
			}
		}
	default:
		resp.Remediation = models.RemediationContactSupport
	}

	c.JSON(status, resp)
}

// GetUser handles GET /api/user. The record is created on first visit.
func (s *Server) GetUser(c *gin.Context) {
	u, err := s.store.EnsureUser(c.Request.Context(), userEmail(c))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewUserView(u))
}

// UpdateUser handles POST /api/user
func (s *Server) UpdateUser(c *gin.Context) {
	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.TasklistID == "" && req.DatabaseID == "" {
		badRequest(c, "tasklist_id or database_id is required")
		return
	}

	u, err := s.store.SelectContainers(c.Request.Context(), userEmail(c), req.TasklistID, req.DatabaseID)
	if errors.Is(err, state.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewUserView(u))
}

// DeleteUser handles DELETE /api/user
func (s *Server) DeleteUser(c *gin.Context) {
	var req models.DeleteUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	email := userEmail(c)
	if state.NormalizeEmail(req.Email) != email {
		badRequest(c, "email does not match the signed-in user")
		return
	}

	err := s.store.DeleteUser(c.Request.Context(), email)
	if errors.Is(err, state.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutCredentials handles PUT /api/user/credentials
func (s *Server) PutCredentials(c *gin.Context) {
	var req models.CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Google == nil && req.Notion == nil {
		badRequest(c, "google or notion credentials are required")
		return
	}

	ctx := c.Request.Context()
	email := userEmail(c)
	if _, err := s.store.EnsureUser(ctx, email); err != nil {
		s.internalError(c, err)
		return
	}

	if g := req.Google; g != nil {
		token := googletasks.Token{AccessToken: g.AccessToken, RefreshToken: g.RefreshToken, Expiry: g.Expiry}
		if err := s.store.SetGoogleCredential(ctx, email, token); err != nil {
			s.internalError(c, err)
			return
		}
	}
	if n := req.Notion; n != nil {
		token := notion.Token{AccessToken: n.AccessToken, BotID: n.BotID, WorkspaceID: n.WorkspaceID, WorkspaceName: n.WorkspaceName}
		if err := s.store.SetNotionCredential(ctx, email, token); err != nil {
			s.internalError(c, err)
			return
		}
	}

	u, err := s.store.GetUser(ctx, email)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewUserView(u))
}

// DeleteCredential handles DELETE /api/user/credentials/:system
func (s *Server) DeleteCredential(c *gin.Context) {
	system := task.System(c.Param("system"))
	if system != task.SystemList && system != task.SystemDB {
		badRequest(c, "unknown system "+string(system))
		return
	}

	err := s.store.ClearCredential(c.Request.Context(), userEmail(c), system)
	if errors.Is(err, state.ErrNotFound) {
		notFound(c)
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ValidateDatabase handles GET /api/databases/validate/:dbid
func (s *Server) ValidateDatabase(c *gin.Context) {
	ctx := c.Request.Context()
	email := userEmail(c)
	databaseID := c.Param("dbid")

	result, err := s.syncer.CheckSchema(ctx, email, databaseID)
	if err != nil {
		s.clearRejected(ctx, email, err)
		s.respondSyncError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ValidationResponse{
		DatabaseID: databaseID,
		Valid:      result.Valid(),
		Issues:     result.Issues,
	})
}

// ListTasklists handles GET /api/tasklists
func (s *Server) ListTasklists(c *gin.Context) {
	s.listContainers(c, task.SystemList)
}

// ListDatabases handles GET /api/databases
func (s *Server) ListDatabases(c *gin.Context) {
	s.listContainers(c, task.SystemDB)
}

func (s *Server) listContainers(c *gin.Context, system task.System) {
	ctx := c.Request.Context()
	email := userEmail(c)

	containers, err := s.syncer.ListContainers(ctx, email, system)
	if err != nil {
		s.clearRejected(ctx, email, err)
		s.respondSyncError(c, err)
		return
	}
	if containers == nil {
		containers = []task.Container{}
	}
	c.JSON(http.StatusOK, models.ContainersResponse{System: system, Containers: containers})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: msg, Remediation: models.RemediationAmendConfiguration})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "user not found", Remediation: models.RemediationAmendConfiguration})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed", "path", c.FullPath(), "user", userEmail(c), "error", err)
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal error", Kind: string(tsync.KindInternal), Remediation: models.RemediationContactSupport})
}
