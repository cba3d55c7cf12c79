package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/mediahub-api/internal/models"
	"github.com/noah-isme/mediahub-api/pkg/response"
)

type accountService interface {
	Get(ctx context.Context, id string) (*models.AccountInfo, error)
	ChangeStatus(ctx context.Context, actorID, id string, req models.ChangeStatusRequest, meta models.ClientMeta) (*models.AccountInfo, error)
	ChangeRole(ctx context.Context, actorID, id string, req models.ChangeRoleRequest, meta models.ClientMeta) (*models.AccountInfo, error)
}

// AccountHandler exposes administrative account endpoints.
type AccountHandler struct {
	service accountService
}

// NewAccountHandler builds a new handler.
func NewAccountHandler(service accountService) *AccountHandler {
	return &AccountHandler{service: service}
}

// Get godoc
// @Summary Get account
// @Tags Accounts
// @Security BearerAuth
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /accounts/{id} [get]
// @Router /admin/accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	account, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// ChangeStatus godoc
// @Summary Change account status
// @Description Apply activate, suspend, reinstate or delete to an account
// @Tags Accounts
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param payload body models.ChangeStatusRequest true "Status command"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/accounts/{id}/status [patch]
func (h *AccountHandler) ChangeStatus(c *gin.Context) {
	claims, ok := currentAccount(c)
	if !ok {
		return
	}
	var req models.ChangeStatusRequest
	if !bindJSON(c, &req, "invalid status payload") {
		return
	}
	account, err := h.service.ChangeStatus(c.Request.Context(), claims.AccountID, c.Param("id"), req, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// ChangeRole godoc
// @Summary Change account role
// @Tags Accounts
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param payload body models.ChangeRoleRequest true "Role"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/accounts/{id}/role [patch]
func (h *AccountHandler) ChangeRole(c *gin.Context) {
	claims, ok := currentAccount(c)
	if !ok {
		return
	}
	var req models.ChangeRoleRequest
	if !bindJSON(c, &req, "invalid role payload") {
		return
	}
	account, err := h.service.ChangeRole(c.Request.Context(), claims.AccountID, c.Param("id"), req, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}
