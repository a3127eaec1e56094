// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package topics_client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vocalab/pkg/commons"
)

// Topic is one discussion prompt from the catalog service.
type Topic struct {
	Id       string   `json:"id"`
	Title    string   `json:"title"`
	Level    string   `json:"level"`
	Keywords []string `json:"keywords"`
}

// TopicServiceClient fetches discussion prompts for new calls.
type TopicServiceClient interface {
	GetTopics(ctx context.Context, level string) ([]Topic, error)
	RandomTopic(ctx context.Context, level string) (*Topic, error)
}

type topicServiceClient struct {
	logger commons.Logger
	http   *resty.Client
}

// defaultTopics keeps calls startable when no catalog service is configured.
var defaultTopics = []Topic{
	{Id: "food", Title: "Describe your favourite meal and how it is made", Level: "beginner"},
	{Id: "travel", Title: "Talk about a place you would love to visit", Level: "beginner"},
	{Id: "work", Title: "Discuss what makes a job enjoyable", Level: "intermediate"},
	{Id: "technology", Title: "How has technology changed the way you learn?", Level: "intermediate"},
	{Id: "culture", Title: "Compare a tradition from your culture with another", Level: "advanced"},
}

func NewTopicServiceClient(logger commons.Logger, host string) TopicServiceClient {
	client := &topicServiceClient{logger: logger}
	if host != "" {
		client.http = resty.New().
			SetBaseURL(host).
			SetTimeout(10 * time.Second).
			SetRetryCount(2)
	}
	return client
}

// GetTopics lists prompts for a difficulty level. Without a configured host,
// or when the catalog is unreachable, the built-in list is served instead so
// a catalog outage never blocks starting a call.
func (client *topicServiceClient) GetTopics(ctx context.Context, level string) ([]Topic, error) {
	if client.http == nil {
		return filterByLevel(defaultTopics, level), nil
	}

	var topics []Topic
	resp, err := client.http.R().
		SetContext(ctx).
		SetQueryParam("level", level).
		SetResult(&topics).
		Get("/v1/topics")
	if err != nil {
		client.logger.Warnw("Topic catalog unreachable, using built-in topics", "error", err)
		return filterByLevel(defaultTopics, level), nil
	}
	if resp.IsError() {
		client.logger.Warnw("Topic catalog returned error, using built-in topics", "status", resp.StatusCode())
		return filterByLevel(defaultTopics, level), nil
	}
	if len(topics) == 0 {
		return filterByLevel(defaultTopics, level), nil
	}
	return topics, nil
}

// RandomTopic picks one prompt for a new call.
func (client *topicServiceClient) RandomTopic(ctx context.Context, level string) (*Topic, error) {
	topics, err := client.GetTopics(ctx, level)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("no topics available for level %q", level)
	}
	topic := topics[rand.Intn(len(topics))]
	return &topic, nil
}

func filterByLevel(topics []Topic, level string) []Topic {
	if level == "" {
		return topics
	}
	filtered := make([]Topic, 0, len(topics))
	for _, t := range topics {
		if t.Level == level {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return topics
	}
	return filtered
}
