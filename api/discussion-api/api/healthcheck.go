// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package discussion_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vocalab/api/discussion-api/config"
	"github.com/vocalab/pkg/commons"
)

type HealthCheckApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	redis  *redis.Client
}

func NewHealthCheckApi(cfg *config.AppConfig, logger commons.Logger, redis *redis.Client) *HealthCheckApi {
	return &HealthCheckApi{cfg: cfg, logger: logger, redis: redis}
}

func (api *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": api.cfg.Name, "version": api.cfg.Version})
}

// Readiness additionally checks the presence backend.
func (api *HealthCheckApi) Readiness(c *gin.Context) {
	if err := api.redis.Ping(c.Request.Context()).Err(); err != nil {
		api.logger.Warnw("Readiness probe failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
