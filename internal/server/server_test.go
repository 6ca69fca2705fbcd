package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/opencafe/pointsd/internal/clock"
	"github.com/opencafe/pointsd/internal/config"
	"github.com/opencafe/pointsd/internal/events"
	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
	ledgerrepository "github.com/opencafe/pointsd/internal/ledger/repository"
	"github.com/opencafe/pointsd/internal/migration"
	pointsservice "github.com/opencafe/pointsd/internal/points/service"
	"github.com/opencafe/pointsd/internal/reconcile"
	tokendomain "github.com/opencafe/pointsd/internal/token/domain"
	tokenrepository "github.com/opencafe/pointsd/internal/token/repository"
	tokensecret "github.com/opencafe/pointsd/internal/token/secret"
	"github.com/opencafe/pointsd/internal/xpconfig"
)

type serverEnv struct {
	srv    *Server
	router *gin.Engine
	db     *gorm.DB
	token  string
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + filepath.Join(t.TempDir(), "server.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migration.RunMigrations(db); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	for _, user := range []ledgerdomain.User{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
	} {
		if err := db.Create(&user).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	cfg := config.Config{
		Environment:             "test",
		DailyLimitMessages:      10,
		DailyLimitReactions:     10,
		ReconcileAutoCorrectMax: 100,
		ReconcileBatchSize:      50,
		XPConfigCacheTTL:        time.Minute,
		ServiceName:             "pointsd",
	}
	log := zap.NewNop()
	fixed := &clock.Fixed{Instant: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)}
	repo := ledgerrepository.NewRepository(ledgerrepository.RepositoryParam{DB: db, Log: log})
	catalog := xpconfig.NewService(xpconfig.ServiceParam{DB: db, Cfg: cfg, Log: log})
	outbox := events.NewOutbox(db, node)

	pointsSvc := pointsservice.NewService(pointsservice.ServiceParam{
		DB:      db,
		Cfg:     cfg,
		Log:     log,
		Clock:   fixed,
		GenID:   node,
		Repo:    repo,
		Catalog: catalog,
		Outbox:  outbox,
	})
	reconcileSvc := reconcile.NewService(reconcile.ServiceParam{
		DB:     db,
		Cfg:    cfg,
		Log:    log,
		Clock:  fixed,
		GenID:  node,
		Repo:   repo,
		Outbox: outbox,
	})
	tokenRepo := tokenrepository.Provide()

	srv := NewServer(Param{
		Cfg:          cfg,
		Log:          log,
		DB:           db,
		PointsSvc:    pointsSvc,
		ReconcileSvc: reconcileSvc,
		LedgerRepo:   repo,
		CatalogSvc:   catalog,
		TokenRepo:    tokenRepo,
	})

	secret := "test-secret"
	hash, err := tokensecret.Hash(secret)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	record := &tokendomain.APIToken{
		ID:         node.Generate(),
		Name:       "test-admin",
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := tokenRepo.Insert(context.Background(), db, record); err != nil {
		t.Fatalf("insert token: %v", err)
	}

	return &serverEnv{
		srv:    srv,
		router: srv.Router(),
		db:     db,
		token:  tokendomain.Format(record.ID, secret),
	}
}

func (e *serverEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithToken(t, method, path, body, e.token)
}

func (e *serverEnv) doWithToken(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	return body.Error.Code
}

func TestHealthzNeedsNoToken(t *testing.T) {
	env := newServerEnv(t)

	rec := env.doWithToken(t, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTokenRequired(t *testing.T) {
	env := newServerEnv(t)

	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"malformed", "not-a-token"},
		{"wrong prefix", "sk_123.secret"},
		{"wrong secret", strings.TrimSuffix(env.token, "secret") + "other"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.doWithToken(t, http.MethodGet, "/users/alice/points", nil, tc.token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestTokenRevoked(t *testing.T) {
	env := newServerEnv(t)

	now := time.Now().UTC()
	if err := env.db.Model(&tokendomain.APIToken{}).
		Where("name = ?", "test-admin").
		Update("revoked_at", now).Error; err != nil {
		t.Fatalf("revoke token: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/users/alice/points", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAddXPAndGetPoints(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/xp/add", gin.H{
		"user_id": "alice",
		"amount":  50,
		"reason":  "espresso round",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Entry struct {
			Source string `json:"source"`
			Amount int64  `json:"amount"`
		} `json:"entry"`
		Balance struct {
			TotalXP int64 `json:"total_xp"`
			Level   int   `json:"level"`
		} `json:"balance"`
	}
	decodeBody(t, rec, &result)
	if result.Entry.Source != ledgerdomain.SourceManual {
		t.Fatalf("source = %q, want manual default", result.Entry.Source)
	}
	if result.Balance.TotalXP != 50 {
		t.Fatalf("total_xp = %d, want 50", result.Balance.TotalXP)
	}

	rec = env.do(t, http.MethodGet, "/users/alice/points", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var standing struct {
		Balance struct {
			TotalXP int64 `json:"total_xp"`
			Level   int   `json:"level"`
		} `json:"balance"`
		ToNextLevel int64 `json:"to_next_level"`
	}
	decodeBody(t, rec, &standing)
	if standing.Balance.TotalXP != 50 || standing.Balance.Level != 1 {
		t.Fatalf("standing = %+v, want 50 XP at level 1", standing.Balance)
	}
	if standing.ToNextLevel != 50 {
		t.Fatalf("to_next_level = %d, want 50", standing.ToNextLevel)
	}

	rec = env.do(t, http.MethodGet, "/users/nobody/points", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAddXPValidation(t *testing.T) {
	env := newServerEnv(t)

	cases := []struct {
		name   string
		body   gin.H
		status int
	}{
		{"zero amount", gin.H{"user_id": "alice", "amount": 0, "reason": "x"}, http.StatusBadRequest},
		{"missing reason", gin.H{"user_id": "alice", "amount": 10}, http.StatusBadRequest},
		{"unknown source", gin.H{"user_id": "alice", "amount": 10, "source": "lottery", "reason": "x"}, http.StatusBadRequest},
		{"reserved source", gin.H{"user_id": "alice", "amount": 10, "source": "system-correction", "reason": "x"}, http.StatusBadRequest},
		{"unknown user", gin.H{"user_id": "nobody", "amount": 10, "reason": "x"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/xp/add", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
		})
	}
}

func TestAddXPDuplicateReturnsOK(t *testing.T) {
	env := newServerEnv(t)

	body := gin.H{
		"user_id":           "alice",
		"amount":            50,
		"source":            "coffee-made",
		"source_identifier": "msg-1",
		"reason":            "espresso round",
	}

	rec := env.do(t, http.MethodPost, "/xp/add", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first post status = %d, want 201", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/xp/add", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", rec.Code)
	}
	var result struct {
		Duplicate bool `json:"duplicate"`
		Balance   struct {
			TotalXP int64 `json:"total_xp"`
		} `json:"balance"`
	}
	decodeBody(t, rec, &result)
	if !result.Duplicate {
		t.Fatal("replay not flagged as duplicate")
	}
	if result.Balance.TotalXP != 50 {
		t.Fatalf("total_xp = %d, want 50 after replay", result.Balance.TotalXP)
	}
}

func TestRemoveXP(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/xp/add", gin.H{
		"user_id": "alice", "amount": 50, "reason": "grant",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/xp/remove", gin.H{
		"user_id": "alice", "amount": 20, "reason": "entered twice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("remove status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Entry struct {
			Amount int64 `json:"amount"`
		} `json:"entry"`
		Balance struct {
			TotalXP int64 `json:"total_xp"`
		} `json:"balance"`
	}
	decodeBody(t, rec, &result)
	if result.Entry.Amount != -20 {
		t.Fatalf("entry amount = %d, want -20", result.Entry.Amount)
	}
	if result.Balance.TotalXP != 30 {
		t.Fatalf("total_xp = %d, want 30", result.Balance.TotalXP)
	}
}

func TestAwardAction(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/xp/award", gin.H{
		"user_id": "bob",
		"action":  "coffee-brought",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Entry struct {
			Amount int64  `json:"amount"`
			Source string `json:"source"`
		} `json:"entry"`
	}
	decodeBody(t, rec, &result)
	if result.Entry.Amount != 75 || result.Entry.Source != ledgerdomain.SourceCoffeeBrought {
		t.Fatalf("entry = %+v, want 75 XP from coffee-brought", result.Entry)
	}

	rec = env.do(t, http.MethodPost, "/xp/award", gin.H{
		"user_id": "bob",
		"action":  "coffee-teleported",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "unknown_action" {
		t.Fatalf("error code = %q, want unknown_action", code)
	}
}

func TestDailyCapOverHTTP(t *testing.T) {
	env := newServerEnv(t)

	for i := 0; i < 10; i++ {
		rec := env.do(t, http.MethodPost, "/xp/award", gin.H{
			"user_id":           "alice",
			"action":            "message-sent",
			"source_identifier": fmt.Sprintf("msg-%d", i),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("award %d status = %d, want 201", i, rec.Code)
		}
	}

	rec := env.do(t, http.MethodPost, "/xp/award", gin.H{
		"user_id":           "alice",
		"action":            "message-sent",
		"source_identifier": "msg-over",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("over-cap status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "daily_limit_reached" {
		t.Fatalf("error code = %q, want daily_limit_reached", code)
	}
}

func TestReverseEntry(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/xp/add", gin.H{
		"user_id": "alice", "amount": 50, "reason": "grant",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", rec.Code)
	}
	var created struct {
		Entry struct {
			ID string `json:"id"`
		} `json:"entry"`
	}
	decodeBody(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/audit/reverse/"+created.Entry.ID, gin.H{
		"reason": "posted against the wrong member",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reverse status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var reversed struct {
		Offset struct {
			Amount int64 `json:"amount"`
		} `json:"offset"`
		Balance struct {
			TotalXP int64 `json:"total_xp"`
		} `json:"balance"`
	}
	decodeBody(t, rec, &reversed)
	if reversed.Offset.Amount != -50 || reversed.Balance.TotalXP != 0 {
		t.Fatalf("reversal = %+v, want offset -50 and balance 0", reversed)
	}

	rec = env.do(t, http.MethodPost, "/audit/reverse/"+created.Entry.ID, gin.H{
		"reason": "again",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double reverse status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/audit/reverse/not-an-id", gin.H{"reason": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestCreateUser(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/users", gin.H{
		"id": "carol", "display_name": "Carol",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/users", gin.H{
		"id": "carol", "display_name": "Carol",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("recreate status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/users", gin.H{"id": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank id status = %d, want 400", rec.Code)
	}
}

func TestXPConfigEndpoints(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodGet, "/config/xp", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var listing struct {
		Actions []struct {
			Action string `json:"action"`
			Amount int64  `json:"amount"`
		} `json:"actions"`
	}
	decodeBody(t, rec, &listing)
	amounts := map[string]int64{}
	for _, action := range listing.Actions {
		amounts[action.Action] = action.Amount
	}
	if amounts["coffee-made"] != 50 {
		t.Fatalf("coffee-made = %d, want default 50", amounts["coffee-made"])
	}

	rec = env.do(t, http.MethodPut, "/config/xp/coffee-made", gin.H{"amount": 60})
	if rec.Code != http.StatusOK {
		t.Fatalf("override status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/config/xp", nil)
	decodeBody(t, rec, &listing)
	for _, action := range listing.Actions {
		if action.Action == "coffee-made" && action.Amount != 60 {
			t.Fatalf("coffee-made = %d after override, want 60", action.Amount)
		}
	}

	rec = env.do(t, http.MethodPut, "/config/xp/coffee-teleported", gin.H{"amount": 10})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/config/xp/coffee-made", gin.H{"amount": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero amount status = %d, want 400", rec.Code)
	}
}

func TestAuditValidateAndCorrect(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/xp/add", gin.H{
		"user_id": "alice", "amount": 50, "reason": "grant",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", rec.Code)
	}

	// Drift the stored balance behind the ledger's back.
	if err := env.db.Exec(`UPDATE balances SET total_xp = 80 WHERE user_id = ?`, "alice").Error; err != nil {
		t.Fatalf("drift balance: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/audit/validate/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d, want 200", rec.Code)
	}
	var validation struct {
		Valid      bool  `json:"valid"`
		Expected   int64 `json:"expected"`
		Stored     int64 `json:"stored"`
		Difference int64 `json:"difference"`
	}
	decodeBody(t, rec, &validation)
	if validation.Valid || validation.Expected != 50 || validation.Stored != 80 {
		t.Fatalf("validation = %+v, want invalid with expected 50 stored 80", validation)
	}

	rec = env.do(t, http.MethodPost, "/audit/correct/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("correct status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var correction struct {
		Corrected bool `json:"corrected"`
	}
	decodeBody(t, rec, &correction)
	if !correction.Corrected {
		t.Fatal("correction not applied")
	}

	rec = env.do(t, http.MethodGet, "/audit/validate/alice", nil)
	decodeBody(t, rec, &validation)
	if !validation.Valid {
		t.Fatalf("validation after correction = %+v, want valid", validation)
	}

	rec = env.do(t, http.MethodGet, "/audit/validate/nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/audit/validate-all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate-all status = %d, want 200", rec.Code)
	}
}

func TestAuditReadEndpoints(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/xp/add", gin.H{
		"user_id": "alice", "amount": 50, "source": "coffee-made", "reason": "espresso round",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/xp/add", gin.H{
		"user_id": "alice", "amount": 15, "source": "rating", "reason": "tasting notes",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/audit/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/audit/duplicates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicates status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/audit/user-breakdown/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("breakdown status = %d, want 200", rec.Code)
	}
	var breakdown struct {
		Total    int64 `json:"total"`
		BySource []struct {
			Source string `json:"source"`
			Total  int64  `json:"total"`
		} `json:"by_source"`
	}
	decodeBody(t, rec, &breakdown)
	if breakdown.Total != 65 {
		t.Fatalf("breakdown total = %d, want 65", breakdown.Total)
	}
	if len(breakdown.BySource) != 2 {
		t.Fatalf("by_source groups = %d, want 2", len(breakdown.BySource))
	}

	rec = env.do(t, http.MethodGet, "/audit/all-users-breakdown", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("all-users status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/audit/detailed-logs/alice?source=coffee-made&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logs status = %d, want 200", rec.Code)
	}
	var logs struct {
		Total   int64 `json:"total"`
		Entries []struct {
			Source string `json:"source"`
		} `json:"entries"`
	}
	decodeBody(t, rec, &logs)
	if logs.Total != 1 || len(logs.Entries) != 1 || logs.Entries[0].Source != "coffee-made" {
		t.Fatalf("filtered logs = %+v, want one coffee-made entry", logs)
	}

	rec = env.do(t, http.MethodGet, "/audit/detailed-logs/alice?limit=9999", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized limit status = %d, want 400", rec.Code)
	}
}

func TestAuditCorrectWithReason(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/xp/add", gin.H{
		"user_id": "alice", "amount": 50, "reason": "grant",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", rec.Code)
	}
	if err := env.db.Exec(`UPDATE balances SET total_xp = 80 WHERE user_id = ?`, "alice").Error; err != nil {
		t.Fatalf("drift balance: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/audit/correct/alice", gin.H{
		"reason": "double-counted brew",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("correct status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var correction struct {
		Corrected bool `json:"corrected"`
		Entry     struct {
			Reason string `json:"reason"`
		} `json:"entry"`
	}
	decodeBody(t, rec, &correction)
	if !correction.Corrected {
		t.Fatal("correction not applied")
	}
	if !strings.Contains(correction.Entry.Reason, "double-counted brew") {
		t.Fatalf("entry reason = %q, want the admin justification embedded", correction.Entry.Reason)
	}
}

func TestAuditUserHistory(t *testing.T) {
	env := newServerEnv(t)

	for _, body := range []gin.H{
		{"user_id": "alice", "amount": 50, "source": "coffee-made", "reason": "espresso round"},
		{"user_id": "alice", "amount": 15, "source": "rating", "reason": "tasting notes"},
		{"user_id": "bob", "amount": 75, "source": "coffee-brought", "reason": "beans run"},
	} {
		rec := env.do(t, http.MethodPost, "/xp/add", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("add status = %d, want 201", rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/audit?userId=alice&limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var history struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Balance struct {
			TotalXP int64 `json:"total_xp"`
		} `json:"balance"`
		Total   int64 `json:"total"`
		Entries []struct {
			Source string `json:"source"`
		} `json:"entries"`
	}
	decodeBody(t, rec, &history)
	if history.User.ID != "alice" || history.Balance.TotalXP != 65 {
		t.Fatalf("history = %+v, want alice with 65 XP", history)
	}
	if history.Total != 2 || len(history.Entries) != 1 {
		t.Fatalf("paging = total %d entries %d, want 2/1", history.Total, len(history.Entries))
	}

	rec = env.do(t, http.MethodGet, "/audit?username=Bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("by-username status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &history)
	if history.User.ID != "bob" || history.Balance.TotalXP != 75 {
		t.Fatalf("bob history = %+v", history)
	}

	rec = env.do(t, http.MethodGet, "/audit?username=Nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown username status = %d, want 404", rec.Code)
	}
}

func TestAuditReportWindow(t *testing.T) {
	env := newServerEnv(t)

	for _, body := range []gin.H{
		{"user_id": "alice", "amount": 50, "source": "coffee-made", "reason": "espresso round"},
		{"user_id": "bob", "amount": 75, "source": "coffee-brought", "reason": "beans run"},
	} {
		rec := env.do(t, http.MethodPost, "/xp/add", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("add status = %d, want 201", rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/audit/report?source=coffee-made", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var report struct {
		TotalXP int64 `json:"total_xp"`
		Users   int64 `json:"users"`
		ByUser  []struct {
			UserID string `json:"user_id"`
			Earned int64  `json:"earned"`
		} `json:"by_user"`
	}
	decodeBody(t, rec, &report)
	if report.TotalXP != 50 || report.Users != 1 {
		t.Fatalf("source-filtered report = %+v", report)
	}
	if len(report.ByUser) != 1 || report.ByUser[0].UserID != "alice" || report.ByUser[0].Earned != 50 {
		t.Fatalf("by_user = %+v", report.ByUser)
	}

	// The fixed clock posts everything on 2024-05-10.
	rec = env.do(t, http.MethodGet, "/audit/report?startDate=2024-05-11", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("windowed report status = %d, want 200", rec.Code)
	}
	decodeBody(t, rec, &report)
	if report.TotalXP != 0 || len(report.ByUser) != 0 {
		t.Fatalf("future window = %+v, want empty", report)
	}

	rec = env.do(t, http.MethodGet, "/audit/report?startDate=2024-05-10&endDate=2024-05-10", nil)
	decodeBody(t, rec, &report)
	if report.TotalXP != 125 {
		t.Fatalf("single-day window total = %d, want 125", report.TotalXP)
	}

	rec = env.do(t, http.MethodGet, "/audit/report?startDate=not-a-date", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d, want 400", rec.Code)
	}
}

func TestDetailedLogsAmountBounds(t *testing.T) {
	env := newServerEnv(t)

	for _, body := range []gin.H{
		{"user_id": "alice", "amount": 50, "source": "coffee-made", "reason": "espresso round"},
		{"user_id": "alice", "amount": 15, "source": "rating", "reason": "tasting notes"},
		{"user_id": "alice", "amount": 1, "source": "message", "reason": "chatter"},
	} {
		rec := env.do(t, http.MethodPost, "/xp/add", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("add status = %d, want 201", rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/audit/detailed-logs/alice?minAmount=10&maxAmount=20", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bounded logs status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var logs struct {
		Total int64 `json:"total"`
		Stats struct {
			Count int64   `json:"count"`
			Sum   int64   `json:"sum"`
			Avg   float64 `json:"avg"`
		} `json:"stats"`
		Entries []struct {
			Amount int64 `json:"amount"`
		} `json:"entries"`
	}
	decodeBody(t, rec, &logs)
	if logs.Total != 1 || len(logs.Entries) != 1 || logs.Entries[0].Amount != 15 {
		t.Fatalf("bounded logs = %+v, want the single 15 XP entry", logs)
	}
	if logs.Stats.Sum != 15 || logs.Stats.Count != 1 {
		t.Fatalf("stats = %+v", logs.Stats)
	}

	rec = env.do(t, http.MethodGet, "/audit/detailed-logs/alice", nil)
	decodeBody(t, rec, &logs)
	if logs.Stats.Sum != 66 || logs.Stats.Count != 3 || logs.Stats.Avg != 22 {
		t.Fatalf("stats = %+v, want sum 66 over 3 entries", logs.Stats)
	}

	rec = env.do(t, http.MethodGet, "/audit/detailed-logs/alice?minAmount=lots", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad bound status = %d, want 400", rec.Code)
	}
}

func TestExportLedgerCSV(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(t, http.MethodPost, "/xp/add", gin.H{
		"user_id": "alice", "amount": 50, "reason": "grant",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/audit/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("content type = %q, want text/csv", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "ledger.csv") {
		t.Fatalf("content disposition = %q, want attachment", got)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header plus one row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,user_id,amount") {
		t.Fatalf("csv header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "alice,50,manual") {
		t.Fatalf("csv row = %q, want alice manual grant", lines[1])
	}

	rec = env.do(t, http.MethodGet, "/audit/export?user_id=bob", nil)
	lines = strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("filtered csv lines = %d, want header only for bob", len(lines))
	}
}

func TestRateLimiterWindow(t *testing.T) {
	limiter := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("token-1") {
			t.Fatalf("request %d rejected inside the limit", i)
		}
	}
	if limiter.Allow("token-1") {
		t.Fatal("request over the limit allowed")
	}
	if !limiter.Allow("token-2") {
		t.Fatal("second key throttled by the first key's window")
	}
	if limiter.Allow("") {
		t.Fatal("empty key allowed")
	}
}

func TestRateLimiterPrunesStaleWindows(t *testing.T) {
	limiter := newRateLimiter(1, time.Millisecond)

	limiter.Allow("token-1")
	limiter.Allow("token-2")
	time.Sleep(5 * time.Millisecond)

	if !limiter.Allow("token-1") {
		t.Fatal("fresh window rejected after the old one lapsed")
	}
	limiter.mu.Lock()
	tracked := len(limiter.items)
	limiter.mu.Unlock()
	if tracked != 1 {
		t.Fatalf("tracked keys = %d, want stale windows dropped", tracked)
	}
}
