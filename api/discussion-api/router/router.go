// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package discussion_routers

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	discussionApi "github.com/vocalab/api/discussion-api/api"
	"github.com/vocalab/api/discussion-api/config"
	internal_relay "github.com/vocalab/api/discussion-api/internal/relay"
	topics_client "github.com/vocalab/pkg/clients/topics"
	"github.com/vocalab/pkg/commons"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, redis *redis.Client) {
	logger.Info("Internal HealthCheckRoutes added to engine.")
	apiv1 := engine.Group("")
	hcApi := discussionApi.NewHealthCheckApi(cfg, logger, redis)
	{
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
	}
}

func RealtimeRoutes(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	hub *internal_relay.Hub,
	auth *internal_relay.Authenticator,
	presence *internal_relay.Presence,
) {
	logger.Info("RealtimeRoutes added to engine.")
	apiv1 := engine.Group("v1/realtime")
	rtApi := discussionApi.NewRealtimeApi(cfg, logger, hub, auth, presence)
	{
		apiv1.GET("/connect", rtApi.Connect)
		apiv1.GET("/roster", rtApi.Roster)
		apiv1.POST("/token", rtApi.Token)
	}
}

func TopicsRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger) {
	logger.Info("TopicsRoutes added to engine.")
	apiv1 := engine.Group("v1/topics")
	topicsApi := discussionApi.NewTopicsApi(cfg, logger, topics_client.NewTopicServiceClient(logger, cfg.TopicsHost))
	{
		apiv1.GET("/", topicsApi.List)
		apiv1.GET("/random", topicsApi.Random)
	}
}
