package handler

import (
	"log/slog"
	"net/http"

	"creditledger/internal/config"

	"github.com/gin-gonic/gin"
)

func SetupRouter(h *Handler, cfg *config.Config, log *slog.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		auth := JWTAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

		wallet := api.Group("/wallet", auth)
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.POST("/reservations", h.CreateReservation)
			wallet.GET("/reservations/:id", h.GetReservation)
			wallet.POST("/reservations/commit", h.CommitReservation)
			wallet.POST("/reservations/release", h.ReleaseReservation)
		}

		payment := api.Group("/payment")
		{
			payment.GET("/packages", h.ListPackages)
			payment.POST("/webhook/:provider", h.ProviderWebhook)
			payment.POST("/topup", auth, h.CreateTopUp)
			payment.POST("/topup/package", auth, h.CreatePackageTopUp)
			payment.GET("/topup/:ref", auth, h.GetTopUp)
		}

		pricing := api.Group("/pricing", auth)
		{
			pricing.GET("/:model", h.GetPrice)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
