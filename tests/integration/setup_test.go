package integration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"coinsight/internal/events"
	"coinsight/internal/handlers"
	"coinsight/internal/logger"
	"coinsight/internal/middleware"
	"coinsight/internal/services"
	"coinsight/internal/testutil"
	"coinsight/internal/validator"
)

// testApp holds the full application stack for integration tests: the HTTP API
// plus the event-driven tracker, sharing one database.
type testApp struct {
	DB      *gorm.DB
	Router  *gin.Engine
	Tracker services.TrackerServicer
	Alerts  *capturedAlerts
}

// capturedAlerts collects alerts the tracker publishes.
type capturedAlerts struct {
	alerts []*events.BudgetAlertEvent
}

func (c *capturedAlerts) PublishAlert(_ context.Context, alert *events.BudgetAlertEvent) error {
	c.alerts = append(c.alerts, alert)
	return nil
}

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	validator.Register()
}

// setupApp creates a full application stack backed by an isolated in-memory SQLite.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	db := testutil.SetupTestDB(t)

	budgetService := services.NewBudgetService(db, services.DefaultCategories(), false)
	auditService := services.NewAuditService(db)
	ledgerService := services.NewLedgerService(db)
	alerts := &capturedAlerts{}
	trackerService := services.NewTrackerService(db, ledgerService, alerts)

	budgetHandler := handlers.NewBudgetHandler(budgetService, auditService)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware())

	budgets := v1.Group("/budgets")
	budgets.POST("", budgetHandler.CreateBudget)
	budgets.GET("", budgetHandler.GetBudgets)
	budgets.GET("/:id", budgetHandler.GetBudget)
	budgets.PUT("/:id", budgetHandler.UpdateBudget)
	budgets.DELETE("/:id", budgetHandler.DeleteBudget)

	return &testApp{
		DB:      db,
		Router:  router,
		Tracker: trackerService,
		Alerts:  alerts,
	}
}

// newUserToken mints an access token for a fresh user.
func (app *testApp) newUserToken(t *testing.T) (userID, token string) {
	t.Helper()

	userID = testutil.NewUserID()
	token, err := middleware.GenerateAccessToken(userID, "user@example.com")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return userID, token
}

// request performs an authenticated HTTP request against the test router.
func (app *testApp) request(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nbody: %s", err, rec.Body.String())
	}
	return result
}
