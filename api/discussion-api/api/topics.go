// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package discussion_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vocalab/api/discussion-api/config"
	topics_client "github.com/vocalab/pkg/clients/topics"
	"github.com/vocalab/pkg/commons"
)

// TopicsApi serves discussion prompts to clients picking a topic before
// placing a call.
type TopicsApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	topics topics_client.TopicServiceClient
}

func NewTopicsApi(cfg *config.AppConfig, logger commons.Logger, topics topics_client.TopicServiceClient) *TopicsApi {
	return &TopicsApi{cfg: cfg, logger: logger, topics: topics}
}

func (api *TopicsApi) List(c *gin.Context) {
	topics, err := api.topics.GetTopics(c.Request.Context(), c.Query("level"))
	if err != nil {
		api.logger.Errorw("Failed to list topics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "topics unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

func (api *TopicsApi) Random(c *gin.Context) {
	topic, err := api.topics.RandomTopic(c.Request.Context(), c.Query("level"))
	if err != nil {
		api.logger.Errorw("Failed to pick topic", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "topics unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topic": topic})
}
