// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package discussion_api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalab/api/discussion-api/config"
	internal_relay "github.com/vocalab/api/discussion-api/internal/relay"
	"github.com/vocalab/pkg/commons"
)

func newTokenEngine(t *testing.T) (*gin.Engine, *config.AppConfig) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger, err := commons.NewApplicationLogger(
		commons.Name("test-realtime"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	require.NoError(t, err)

	cfg := &config.AppConfig{
		Name:              "discussion-api",
		Secret:            "service-secret",
		TurnBudgetSeconds: 90,
	}
	auth := internal_relay.NewAuthenticator(cfg.Secret)
	hub := internal_relay.NewHub(logger, nil)

	engine := gin.New()
	rtApi := NewRealtimeApi(cfg, logger, hub, auth, nil)
	engine.POST("/v1/realtime/token", rtApi.Token)
	return engine, cfg
}

func TestTokenCarriesTurnBudget(t *testing.T) {
	engine, cfg := newTokenEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/realtime/token",
		strings.NewReader(`{"identity":"alice","secret":"service-secret"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token             string `json:"token"`
		TurnBudgetSeconds int    `json:"turnBudgetSeconds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, cfg.TurnBudgetSeconds, body.TurnBudgetSeconds)

	// The minted token must pass the relay's own verification.
	identity, err := internal_relay.NewAuthenticator(cfg.Secret).VerifyBearer("Bearer " + body.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	engine, _ := newTokenEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/realtime/token",
		strings.NewReader(`{"identity":"alice","secret":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenRejectsMissingFields(t *testing.T) {
	engine, _ := newTokenEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/realtime/token",
		strings.NewReader(`{"identity":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
