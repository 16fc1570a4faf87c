package routes

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"coffee-trace-api-server/config"
	"coffee-trace-api-server/internal/api/handlers"
	"coffee-trace-api-server/internal/api/middleware"
	"coffee-trace-api-server/internal/auth"
	"coffee-trace-api-server/internal/batch"
	"coffee-trace-api-server/internal/metrics"
	"coffee-trace-api-server/internal/models"
	"coffee-trace-api-server/internal/socket"
	"coffee-trace-api-server/internal/store"
)

// Dependencies are the components the router wires into handlers.
type Dependencies struct {
	Config  config.Config
	Store   store.Store
	Batches *batch.Service
	Tokens  *auth.Manager
	Hub     *socket.Hub
	Metrics *metrics.Metrics
}

// SetupRouter builds the HTTP API under /api.
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(deps.Metrics.Middleware())
	router.Use(cors.New(corsConfig(deps.Config.Server.CORSOrigins)))

	timeout := deps.Config.Store.QueryTimeout

	healthHandler := &handlers.HealthHandler{Store: deps.Store, Timeout: timeout}
	userHandler := &handlers.UserHandler{Store: deps.Store, Tokens: deps.Tokens, Timeout: timeout}
	cooperativeHandler := &handlers.CooperativeHandler{Store: deps.Store, Timeout: timeout}
	farmerHandler := &handlers.FarmerHandler{Store: deps.Store, Timeout: timeout}
	batchHandler := &handlers.BatchHandler{Service: deps.Batches}
	statsHandler := &handlers.StatsHandler{Service: deps.Batches}
	priceHandler := &handlers.PriceHandler{}
	webSocketHandler := &handlers.WebSocketHandler{Hub: deps.Hub, Tokens: deps.Tokens}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	authenticate := middleware.Authenticate(deps.Tokens)
	adminOnly := middleware.Authorize(models.RoleAdmin)

	api := router.Group("/api")
	{
		api.GET("/health", healthHandler.GetHealth)
		api.GET("/ws", webSocketHandler.ServeWs)
		api.GET("/coffee-price", priceHandler.GetCoffeePrice)

		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", userHandler.Login)
		}

		// Public lookups; scanning a QR code must work without an account.
		api.GET("/cooperatives", cooperativeHandler.GetAllCooperatives)
		api.GET("/cooperatives/:id", cooperativeHandler.GetCooperativeByID)
		api.GET("/cooperatives/:id/stats", statsHandler.GetCooperativeStats)
		api.GET("/farmers", farmerHandler.GetAllFarmers)
		api.GET("/farmers/:id", farmerHandler.GetFarmerByID)
		api.GET("/batches", batchHandler.ListBatches)
		api.GET("/batches/:identifier", batchHandler.GetBatch)
		api.GET("/batches/:identifier/qr", batchHandler.GetQRCode)
		api.GET("/batches/:identifier/qr.png", batchHandler.GetQRImage)

		protected := api.Group("/")
		protected.Use(authenticate)
		{
			protected.POST("/farmers", farmerHandler.CreateFarmer)
			protected.POST("/batches", batchHandler.CreateBatch)
			protected.GET("/dashboard/stats", statsHandler.GetDashboardStats)
		}

		admin := api.Group("/")
		admin.Use(authenticate, adminOnly)
		{
			admin.POST("/cooperatives", cooperativeHandler.CreateCooperative)
			admin.POST("/users", userHandler.CreateUser)
			admin.PATCH("/batches/:identifier/status", batchHandler.UpdateStatus)
		}
	}

	return router
}

// corsConfig allows every origin when none or "*" is configured; credentials
// are only allowed with an explicit origin list.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
