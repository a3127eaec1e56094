// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package discussion_api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vocalab/api/discussion-api/config"
	internal_relay "github.com/vocalab/api/discussion-api/internal/relay"
	"github.com/vocalab/pkg/commons"
)

// RealtimeApi exposes the relay over HTTP: the websocket upgrade endpoint the
// clients dial, plus the presence roster.
type RealtimeApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	hub      *internal_relay.Hub
	auth     *internal_relay.Authenticator
	presence *internal_relay.Presence

	upgrader websocket.Upgrader
}

func NewRealtimeApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	hub *internal_relay.Hub,
	auth *internal_relay.Authenticator,
	presence *internal_relay.Presence,
) *RealtimeApi {
	return &RealtimeApi{
		cfg:      cfg,
		logger:   logger,
		hub:      hub,
		auth:     auth,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Connect upgrades an authenticated request to the relay websocket and blocks
// until the connection drops.
func (api *RealtimeApi) Connect(c *gin.Context) {
	identity, err := api.auth.VerifyBearer(c.GetHeader("Authorization"))
	if err != nil {
		api.logger.Warnw("Rejected relay connection", "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := api.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorw("Websocket upgrade failed", "identity", identity, "error", err)
		return
	}
	api.hub.HandleConnection(c.Request.Context(), identity, conn)
}

// Roster lists identities currently connected to the relay.
func (api *RealtimeApi) Roster(c *gin.Context) {
	online, err := api.presence.Online(c.Request.Context())
	if err != nil {
		api.logger.Errorw("Failed to read presence roster", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}

// Token mints a relay token for an identity. Guarded by the service secret;
// real deployments issue tokens from the account backend instead.
func (api *RealtimeApi) Token(c *gin.Context) {
	var request struct {
		Identity string `json:"identity" binding:"required"`
		Secret   string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if request.Secret != api.cfg.Secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	token, err := api.auth.IssueToken(request.Identity, 24*time.Hour)
	if err != nil {
		api.logger.Errorw("Token issuance failed", "identity", request.Identity, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	// The budget rides along so both participants arm identical turn timers.
	c.JSON(http.StatusOK, gin.H{
		"token":             token,
		"turnBudgetSeconds": api.cfg.TurnBudgetSeconds,
	})
}
