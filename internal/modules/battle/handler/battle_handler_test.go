package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"fable-self/internal/modules/battle/service"
	"fable-self/internal/pkg/log"
	"fable-self/internal/pkg/response"
	"fable-self/internal/pkg/validator"
	"fable-self/internal/pkg/xerrors"
	"fable-self/internal/repository/entity"
	"fable-self/internal/repository/interfaces"
)

const handlerCatalogJSON = `{
	"goblin": {
		"name": "Goblin",
		"level": 1,
		"health": 80,
		"attack": 12,
		"defense": 4,
		"critical_chance": 0,
		"level_requirement": 1,
		"reward": {"experience": 50, "gold": 25}
	}
}`

type memoryProfileRepo struct {
	profiles map[string]*entity.PlayerProfile
}

func (m *memoryProfileRepo) GetByOwnerID(ctx context.Context, ownerID string) (*entity.PlayerProfile, error) {
	profile, ok := m.profiles[ownerID]
	if !ok {
		return nil, xerrors.NewProfileNotFoundError(ownerID)
	}
	return profile, nil
}

func (m *memoryProfileRepo) Create(ctx context.Context, profile *entity.PlayerProfile) error {
	m.profiles[profile.OwnerID] = profile
	return nil
}

func (m *memoryProfileRepo) ApplyBattleOutcome(ctx context.Context, outcome *interfaces.BattleOutcome) (*entity.PlayerProfile, error) {
	return m.profiles[outcome.OwnerID], nil
}

// setupBattleHandler 构造测试用 Handler 与 echo 实例
func setupBattleHandler(t *testing.T) (*BattleHandler, *echo.Echo) {
	t.Helper()

	catalog, err := service.ParseOpponentCatalog([]byte(handlerCatalogJSON))
	require.NoError(t, err)

	logger := log.GetLogger()
	repo := &memoryProfileRepo{profiles: map[string]*entity.PlayerProfile{
		"owner-1": {OwnerID: "owner-1", Level: 1, Attack: 15, Defense: 8, Health: 100, MaxHealth: 100},
	}}
	store := service.NewSessionRegistry(time.Hour, logger)
	svc := service.NewBattleService(catalog, store, repo, nil, nil, logger, time.Hour)

	handler := NewBattleHandler(svc, response.DefaultResponseHandler())

	e := echo.New()
	e.Validator = validator.New()
	return handler, e
}

type apiResponse struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func doRequest(t *testing.T, e *echo.Echo, fn echo.HandlerFunc, method, body, owner string) (*httptest.ResponseRecorder, *apiResponse) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/", reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if owner != "" {
		req.Header.Set("X-Owner-Id", owner)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, fn(c))

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, &resp
}

func TestBattleHandlerStart(t *testing.T) {
	handler, e := setupBattleHandler(t)

	rec, resp := doRequest(t, e, handler.StartBattle, http.MethodPost, `{"opponent_key":"goblin"}`, "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, xerrors.CodeSuccess.ToInt(), resp.Code)

	var update service.BattleUpdate
	require.NoError(t, json.Unmarshal(resp.Data, &update))
	require.Equal(t, service.StateActive, update.State)
	require.Equal(t, "owner-1", update.OwnerID)
	require.Equal(t, 1, update.Round)
}

func TestBattleHandlerStartRequiresOwnerHeader(t *testing.T) {
	handler, e := setupBattleHandler(t)

	rec, resp := doRequest(t, e, handler.StartBattle, http.MethodPost, `{"opponent_key":"goblin"}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, xerrors.CodeInvalidParams.ToInt(), resp.Code)
}

func TestBattleHandlerStartRejectsMissingOpponentKey(t *testing.T) {
	handler, e := setupBattleHandler(t)

	rec, _ := doRequest(t, e, handler.StartBattle, http.MethodPost, `{}`, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBattleHandlerStartUnknownOpponent(t *testing.T) {
	handler, e := setupBattleHandler(t)

	rec, resp := doRequest(t, e, handler.StartBattle, http.MethodPost, `{"opponent_key":"slime"}`, "owner-1")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, xerrors.CodeOpponentNotFound.ToInt(), resp.Code)
}

func TestBattleHandlerAct(t *testing.T) {
	handler, e := setupBattleHandler(t)

	_, _ = doRequest(t, e, handler.StartBattle, http.MethodPost, `{"opponent_key":"goblin"}`, "owner-1")

	rec, resp := doRequest(t, e, handler.Act, http.MethodPost, `{"action":"attack"}`, "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, xerrors.CodeSuccess.ToInt(), resp.Code)

	var update service.BattleUpdate
	require.NoError(t, json.Unmarshal(resp.Data, &update))
	require.Equal(t, service.StateActive, update.State)
	require.Equal(t, 2, update.Round)
	require.Less(t, update.Opponent.Health, 80)
}

func TestBattleHandlerActRejectsUnknownAction(t *testing.T) {
	handler, e := setupBattleHandler(t)

	_, _ = doRequest(t, e, handler.StartBattle, http.MethodPost, `{"opponent_key":"goblin"}`, "owner-1")

	rec, resp := doRequest(t, e, handler.Act, http.MethodPost, `{"action":"dance"}`, "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, xerrors.CodeInvalidBattleAction.ToInt(), resp.Code)
}

func TestBattleHandlerActWithoutSession(t *testing.T) {
	handler, e := setupBattleHandler(t)

	rec, resp := doRequest(t, e, handler.Act, http.MethodPost, `{"action":"attack"}`, "owner-1")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, xerrors.CodeBattleSessionNotFound.ToInt(), resp.Code)
}

func TestBattleHandlerFleeEndsSession(t *testing.T) {
	handler, e := setupBattleHandler(t)

	_, _ = doRequest(t, e, handler.StartBattle, http.MethodPost, `{"opponent_key":"goblin"}`, "owner-1")

	rec, resp := doRequest(t, e, handler.Act, http.MethodPost, `{"action":"flee"}`, "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var update service.BattleUpdate
	require.NoError(t, json.Unmarshal(resp.Data, &update))
	require.Equal(t, service.StateFled, update.State)
	require.True(t, update.Terminal)

	rec, _ = doRequest(t, e, handler.GetCurrent, http.MethodGet, "", "owner-1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBattleHandlerGetCurrent(t *testing.T) {
	handler, e := setupBattleHandler(t)

	_, startResp := doRequest(t, e, handler.StartBattle, http.MethodPost, `{"opponent_key":"goblin"}`, "owner-1")
	var started service.BattleUpdate
	require.NoError(t, json.Unmarshal(startResp.Data, &started))

	rec, resp := doRequest(t, e, handler.GetCurrent, http.MethodGet, "", "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var update service.BattleUpdate
	require.NoError(t, json.Unmarshal(resp.Data, &update))
	require.Equal(t, started.SessionID, update.SessionID)
}

func TestBattleHandlerListOpponents(t *testing.T) {
	handler, e := setupBattleHandler(t)

	rec, resp := doRequest(t, e, handler.ListOpponents, http.MethodGet, "", "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var keys []string
	require.NoError(t, json.Unmarshal(resp.Data, &keys))
	require.Equal(t, []string{"goblin"}, keys)
}