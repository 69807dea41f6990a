// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/gamedex/gamerec/base/log"
	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/logics"
	"github.com/gamedex/gamerec/master"
	"github.com/gamedex/gamerec/storage/cache"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

const (
	apiDocsPath   = "/apidocs.json"
	apiKeyHeader  = "X-API-Key"
	neighborLimit = 10
)

// RestServer implements the REST API of the recommendation core.
type RestServer struct {
	Config      *config.Config
	DataClient  data.Database
	CacheClient cache.Database
	Seed        *logics.SeedCatalog
	Cultural    *logics.CulturalCatalog
	Onboarding  *logics.OnboardingController
	Recommender *logics.Recommender
	WebService  *restful.WebService
	HttpServer  *http.Server
}

// StartHttpServer serves the API, the OpenAPI document and the metrics until
// the server is shut down.
func (s *RestServer) StartHttpServer(container *restful.Container) {
	s.CreateWebService()
	container.Add(s.WebService)
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     apiDocsPath,
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	container.Handle("/apidocs/", v5emb.New("gamerec", apiDocsPath, "/apidocs/"))
	container.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.HttpServer = &http.Server{
		Addr:    addr,
		Handler: container,
	}
	log.Logger().Info("start http server", zap.String("url", "http://"+addr))
	if err := s.HttpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Logger().Fatal("failed to start http server", zap.Error(err))
	}
}

// LogFilter tags each request with a request id and logs its outcome.
func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter(log.RequestIdHeader)
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set(log.RequestIdHeader, requestId)
	start := time.Now()
	chain.ProcessFilter(req, resp)
	elapsed := time.Since(start)
	RestAPIRequestSecondsVec.WithLabelValues(req.Request.Method, req.SelectedRoutePath(),
		strconv.Itoa(resp.StatusCode())).Observe(elapsed.Seconds())
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", elapsed))
}

// TimeoutFilter bounds the time a request may spend in the stores.
func (s *RestServer) TimeoutFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	ctx, cancel := context.WithTimeout(req.Request.Context(), s.Config.Server.RequestTimeout)
	defer cancel()
	req.Request = req.Request.WithContext(ctx)
	chain.ProcessFilter(req, resp)
}

// AuthFilter rejects requests without the configured API key.
func (s *RestServer) AuthFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.Config.Server.APIKey == "" || req.HeaderParameter(apiKeyHeader) == s.Config.Server.APIKey {
		chain.ProcessFilter(req, resp)
		return
	}
	log.ResponseLogger(resp).Error("unauthorized", zap.String("path", req.Request.URL.Path))
	if err := resp.WriteErrorString(http.StatusUnauthorized, "unauthorized"); err != nil {
		log.ResponseLogger(resp).Error("failed to write error", zap.Error(err))
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(LogFilter)
	ws.Filter(otelrestful.OTelFilter("gamerec"))
	ws.Filter(s.AuthFilter)
	ws.Filter(s.TimeoutFilter)

	/* Ratings */

	ws.Route(ws.POST("/user/{user-id}/rating").To(s.rateGame).
		Doc("Rate a game.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Reads(RatingRequest{}).
		Returns(http.StatusOK, "OK", RatingResponse{}).
		Writes(RatingResponse{}))
	ws.Route(ws.GET("/user/{user-id}/rating/{game-id}").To(s.getRating).
		Doc("Get the rating of a user on a game.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"rating"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.PathParameter("game-id", "local:<id>, rawg:<id> or a bare id").DataType("string")).
		Returns(http.StatusOK, "OK", data.Rating{}).
		Writes(data.Rating{}))

	/* Onboarding */

	ws.Route(ws.GET("/user/{user-id}/onboarding").To(s.getOnboardingPage).
		Doc("Get a page of games to rate.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"onboarding"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.QueryParameter("page", "page number starting from 1").DataType("integer")).
		Param(ws.QueryParameter("per_page", "number of games per page").DataType("integer")).
		Param(ws.QueryParameter("mode", "popular or cultural").DataType("string")).
		Returns(http.StatusOK, "OK", logics.PagedSeed{}).
		Writes(logics.PagedSeed{}))
	ws.Route(ws.GET("/user/{user-id}/onboarding/status").To(s.getOnboardingStatus).
		Doc("Get the onboarding progress of a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"onboarding"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Returns(http.StatusOK, "OK", logics.OnboardingStatusView{}).
		Writes(logics.OnboardingStatusView{}))
	ws.Route(ws.POST("/user/{user-id}/onboarding/complete").To(s.completeOnboarding).
		Doc("Complete or skip the onboarding.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"onboarding"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Reads(CompleteRequest{}).
		Returns(http.StatusOK, "OK", data.OnboardingState{}).
		Writes(data.OnboardingState{}))

	/* Recommendation */

	ws.Route(ws.GET("/user/{user-id}/recommend").To(s.getRecommend).
		Doc("Get recommendation for user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Param(ws.QueryParameter("limit", "number of returned games").DataType("integer")).
		Returns(http.StatusOK, "OK", logics.Recommendation{}).
		Writes(logics.Recommendation{}))
	ws.Route(ws.GET("/game/{game-id}/neighbors").To(s.getNeighbors).
		Doc("Get similar games of a game.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("game-id", "local:<id>, rawg:<id> or a bare id").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned neighbors").DataType("integer")).
		Returns(http.StatusOK, "OK", []cache.Neighbor{}).
		Writes([]cache.Neighbor{}))

	/* Administration */

	ws.Route(ws.POST("/admin/seed/reload").To(s.reloadSeed).
		Doc("Reload the popularity feed.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Returns(http.StatusOK, "OK", SeedReloaded{}).
		Writes(SeedReloaded{}))
}

// GameId accepts both JSON numbers and strings such as "local:12".
type GameId string

func (id *GameId) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	*id = GameId(strings.TrimSpace(s))
	return nil
}

type RatingRequest struct {
	GameId       GameId   `json:"game_id"`
	Score        *float64 `json:"score"`
	IsOnboarding *bool    `json:"is_onboarding,omitempty"`
}

type RatingResponse struct {
	Rating     data.Rating          `json:"rating"`
	Onboarding data.OnboardingState `json:"onboarding"`
}

type CompleteRequest struct {
	Skipped bool `json:"skipped"`
}

type SeedReloaded struct {
	Games    int       `json:"games"`
	LoadedAt time.Time `json:"loaded_at"`
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (int, error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueString)
	if err != nil {
		return 0, errors.NotValidf("%s %q", name, valueString)
	}
	return value, nil
}

func (s *RestServer) rateGame(request *restful.Request, response *restful.Response) {
	ctx := request.Request.Context()
	userId := request.PathParameter("user-id")
	var body RatingRequest
	if err := request.ReadEntity(&body); err != nil {
		BadRequest(response, err)
		return
	}
	if body.Score == nil {
		BadRequest(response, errors.NotValidf("missing score"))
		return
	}
	ref, err := logics.ParseGameRef(string(body.GameId))
	if err != nil {
		BadRequest(response, err)
		return
	}
	isOnboarding := body.IsOnboarding == nil || *body.IsOnboarding
	rating, state, err := s.Onboarding.Rate(ctx, userId, ref, *body.Score, isOnboarding)
	if err != nil {
		WriteError(response, err)
		return
	}
	RatingsTotal.WithLabelValues(strconv.FormatBool(isOnboarding)).Inc()
	log.UserLogger(response, userId).Debug("rate game",
		zap.Int64("game_id", rating.GameId), zap.Float64("score", rating.Score.Ordinal()))
	Ok(response, RatingResponse{Rating: rating, Onboarding: state})
}

func (s *RestServer) getRating(request *restful.Request, response *restful.Response) {
	ctx := request.Request.Context()
	userId := request.PathParameter("user-id")
	ref, err := logics.ParseGameRef(request.PathParameter("game-id"))
	if err != nil {
		BadRequest(response, err)
		return
	}
	game, err := logics.LookupGame(ctx, s.DataClient, ref)
	if err != nil {
		WriteError(response, err)
		return
	}
	rating, err := s.DataClient.GetRating(ctx, userId, game.GameId)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, rating)
}

func (s *RestServer) getOnboardingPage(request *restful.Request, response *restful.Response) {
	ctx := request.Request.Context()
	userId := request.PathParameter("user-id")
	page, err := ParseInt(request, "page", 1)
	if err != nil {
		BadRequest(response, err)
		return
	}
	perPage, err := ParseInt(request, "per_page", 0)
	if err != nil {
		BadRequest(response, err)
		return
	}
	mode, err := logics.ParseOnboardingMode(request.QueryParameter("mode"))
	if err != nil {
		BadRequest(response, err)
		return
	}
	result, err := s.Onboarding.FetchPage(ctx, userId, page, perPage, mode)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, result)
}

func (s *RestServer) getOnboardingStatus(request *restful.Request, response *restful.Response) {
	status, err := s.Onboarding.Status(request.Request.Context(), request.PathParameter("user-id"))
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, status)
}

func (s *RestServer) completeOnboarding(request *restful.Request, response *restful.Response) {
	var body CompleteRequest
	// an empty body completes the onboarding
	if err := request.ReadEntity(&body); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(response, err)
		return
	}
	state, err := s.Onboarding.Complete(request.Request.Context(), request.PathParameter("user-id"), body.Skipped)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, state)
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	userId := request.PathParameter("user-id")
	limit, err := ParseInt(request, "limit", s.Config.Server.DefaultLimit)
	if err != nil {
		BadRequest(response, err)
		return
	}
	if limit < 1 || limit > s.Config.Server.MaxLimit {
		BadRequest(response, errors.NotValidf("limit %d (must be between 1 and %d)", limit, s.Config.Server.MaxLimit))
		return
	}
	start := time.Now()
	result, err := s.Recommender.Recommend(request.Request.Context(), userId, limit)
	if err != nil {
		WriteError(response, err)
		return
	}
	GetRecommendSecondsVec.WithLabelValues(string(result.Method)).Observe(time.Since(start).Seconds())
	log.UserLogger(response, userId).Debug("recommend",
		zap.String("method", string(result.Method)), zap.Int("count", len(result.Recommendations)))
	Ok(response, result)
}

func (s *RestServer) getNeighbors(request *restful.Request, response *restful.Response) {
	ctx := request.Request.Context()
	ref, err := logics.ParseGameRef(request.PathParameter("game-id"))
	if err != nil {
		BadRequest(response, err)
		return
	}
	n, err := ParseInt(request, "n", neighborLimit)
	if err != nil {
		BadRequest(response, err)
		return
	}
	if n < 1 || n > s.Config.Server.MaxLimit {
		BadRequest(response, errors.NotValidf("n %d (must be between 1 and %d)", n, s.Config.Server.MaxLimit))
		return
	}
	game, err := logics.LookupGame(ctx, s.DataClient, ref)
	if err != nil {
		WriteError(response, err)
		return
	}
	neighbors, err := s.CacheClient.Neighbors(ctx, game.GameId, 0)
	if err != nil {
		WriteError(response, err)
		return
	}
	if len(neighbors) > n {
		neighbors = neighbors[:n]
	}
	Ok(response, neighbors)
}

func (s *RestServer) reloadSeed(request *restful.Request, response *restful.Response) {
	if err := s.Seed.Reload(request.Request.Context()); err != nil {
		WriteError(response, err)
		return
	}
	s.Cultural.Invalidate()
	snapshot := s.Seed.Snapshot()
	log.ResponseLogger(response).Info("reload seed catalog", zap.Int("games", len(snapshot.Games)))
	Ok(response, SeedReloaded{Games: len(snapshot.Games), LoadedAt: snapshot.LoadedAt})
}

// WriteError maps an error to a status code.
func WriteError(response *restful.Response, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(response, http.StatusGatewayTimeout, err)
	case errors.Is(err, errors.NotValid):
		BadRequest(response, err)
	case errors.Is(err, errors.NotFound):
		PageNotFound(response, err)
	case errors.Is(err, master.ErrBatchInProgress):
		writeError(response, http.StatusConflict, err)
	default:
		InternalServerError(response, err)
	}
}

func writeError(response *restful.Response, status int, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err = response.WriteError(status, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.ResponseLogger(response).Warn("bad request", zap.Error(err))
	writeError(response, http.StatusBadRequest, err)
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	writeError(response, http.StatusInternalServerError, err)
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	writeError(response, http.StatusNotFound, err)
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content any) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}
