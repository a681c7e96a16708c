package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualstake-labs/dsm/internal/chain"
	"github.com/dualstake-labs/dsm/internal/config"
	"github.com/dualstake-labs/dsm/internal/engine"
	"github.com/dualstake-labs/dsm/internal/metrics"
	"github.com/dualstake-labs/dsm/internal/types"
)

// Prometheus collectors register once per process, so every test shares the
// same recorder.
var testMetrics = metrics.New()

func coreUnits(n int64) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(n, types.CoreDecimals)
}

func btcSats(n int64) sdkmath.Int {
	return sdkmath.NewInt(n)
}

type serverFixture struct {
	server *WebServer
	engine *engine.Engine
	clock  time.Time
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	oracle := chain.NewSimOracle(sdkmath.LegacyOneDec(), sdkmath.LegacyNewDec(50_000))
	eng, err := engine.New(engine.Config{
		Params: config.DefaultEngineParameters,
		Collaborators: chain.Collaborators{
			Oracle:   oracle,
			Router:   chain.NewSimRouter(oracle, 10),
			Registry: chain.NewSimRegistry(chain.DefaultSimValidators()),
			Shares:   chain.NewSimShareToken(),
		},
	})
	require.NoError(t, err)

	f := &serverFixture{
		server: NewWebServer("0", eng, testMetrics, "test", "op-token"),
		engine: eng,
		clock:  time.Now().Truncate(time.Second),
	}
	eng.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	return rec
}

func TestDepositEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/deposit", map[string]string{
		"owner":       "alice",
		"core_amount": coreUnits(5_000).String(),
		"btc_amount":  btcSats(100_000_000).String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var pos types.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))
	assert.Equal(t, "alice", pos.Owner)
	assert.True(t, pos.Shares.IsPositive())

	// The position is readable back through the query API.
	rec = f.do(t, http.MethodGet, "/api/positions/alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDepositEndpointValidation(t *testing.T) {
	f := newServerFixture(t)

	t.Run("missing owner", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/deposit", map[string]string{
			"core_amount": "100",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed amount", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/deposit", map[string]string{
			"owner":       "alice",
			"core_amount": "five",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty deposit refused by engine", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/deposit", map[string]string{
			"owner": "alice",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestWithdrawalEndpoints(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/deposit", map[string]string{
		"owner":       "alice",
		"core_amount": coreUnits(5_000).String(),
		"btc_amount":  btcSats(100_000_000).String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var pos types.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))

	// 60% of the pool queues both legs.
	big := pos.Shares.MulRaw(60).QuoRaw(100)
	rec = f.do(t, http.MethodPost, "/api/withdrawals", map[string]string{
		"owner":  "alice",
		"shares": big.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ticket types.WithdrawalTicket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	assert.False(t, ticket.Instant)
	require.Len(t, ticket.RequestIDs, 2)

	coreReq := ticket.RequestIDs[0]

	// Still locked: the conflict carries the engine's reason.
	rec = f.do(t, http.MethodPost, requestPath(coreReq), map[string]string{"owner": "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown IDs are a 404, not a conflict.
	rec = f.do(t, http.MethodPost, "/api/withdrawals/999/process", map[string]string{"owner": "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/withdrawals/bogus/process", map[string]string{"owner": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// After the CORE unbonding period the payout goes through.
	f.clock = f.clock.Add(8 * 24 * time.Hour)
	rec = f.do(t, http.MethodPost, requestPath(coreReq), map[string]string{"owner": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var paid types.UnbondingRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	assert.True(t, paid.Processed)
}

func TestWithdrawalEndpointUnknownOwner(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/withdrawals", map[string]string{
		"owner":  "nobody",
		"shares": "100",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRebalanceEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/deposit", map[string]string{
		"owner":       "alice",
		"core_amount": coreUnits(5_000).String(),
		"btc_amount":  btcSats(100_000_000).String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The deposit's internal cycle just ran: the cooldown refuses keepers.
	rec = f.do(t, http.MethodPost, "/api/rebalance", map[string]string{"keeper": "keeper-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.clock = f.clock.Add(2 * time.Hour)
	rec = f.do(t, http.MethodPost, "/api/rebalance", map[string]string{"keeper": "keeper-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var receipt types.RebalanceReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "keeper-1", receipt.Keeper)
	assert.True(t, receipt.KeeperReward.IsPositive())
}

func TestAdminResumeAuth(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/resume", nil)
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/resume", nil)
	req.Header.Set("Authorization", "Bearer op-token")
	rec = httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	// Authenticated, but the breaker is not tripped.
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func requestPath(id uint64) string {
	return "/api/withdrawals/" + strconv.FormatUint(id, 10) + "/process"
}
