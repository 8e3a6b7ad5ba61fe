package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/presetstore/internal/catalog"
	"github.com/MarkoPoloResearchLab/presetstore/internal/payments"
	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
)

const claimsContextKey = "auth_claims"

// Run boots the HTTP facade using the supplied configuration and dependencies.
func Run(ctx context.Context, cfg Config, service *entitlement.Service, verifier *payments.Verifier, catalogClient *catalog.Client, logger *zap.Logger) error {
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		logger:   logger,
		service:  service,
		verifier: verifier,
		catalog:  catalogClient,
		cfg:      cfg,
	}

	router := setupRouter(cfg, handler, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("presetstore listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider-facing endpoints carry their own authentication: an HMAC
	// signature for the webhook, a shared admin secret for bank transfers.
	router.POST("/payments/polar/webhook", handler.handlePolarWebhook)
	router.POST("/payments/bank-transfer/verify", handler.handleBankTransferVerify)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/session", handler.handleSession)
	api.GET("/profile", handler.handleProfile)
	api.GET("/downloads", handler.handleDownloadHistory)
	api.POST("/downloads", handler.handleDownload)
	api.GET("/favorites", handler.handleListFavorites)
	api.POST("/favorites", handler.handleFavorite)
	api.DELETE("/favorites", handler.handleUnfavorite)
	api.GET("/catalog/categories", handler.handleCategories)
	api.GET("/catalog/presets/:category/:key", handler.handleManifest)
	api.POST("/payments/paypal/verify", handler.handlePayPalVerify)
	api.POST("/payments/test/verify", handler.handleTestVerify)

	admin := api.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/payments", handler.handleAdminPayments)
	admin.GET("/downloads", handler.handleAdminDownloads)
	admin.GET("/metrics", handler.handleAdminMetrics)
	admin.GET("/filters", handler.handleAdminFilters)
	admin.GET("/downloads.csv", handler.handleAdminDownloadsCSV)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	service  *entitlement.Service
	verifier *payments.Verifier
	catalog  *catalog.Client
	cfg      Config
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

// requireAdmin recomputes the capability check per request from the session
// claims; authorization is never cached client-side.
func (handler *httpHandler) requireAdmin(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "please log in"))
		return
	}
	for _, role := range claims.GetUserRoles() {
		if role == handler.cfg.AdminRole {
			ctx.Next()
			return
		}
	}
	ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "access denied"))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
