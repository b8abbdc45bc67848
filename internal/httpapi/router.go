package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	UserHeader    = "X-User"
	SessionCookie = "cart_session"

	userKey    = "username"
	sessionKey = "session_id"
)

// NewRouter wires the routes. Identity is external: the caller's username
// arrives in the X-User header.
func NewRouter(serviceName string, handler *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), otelgin.Middleware(serviceName))

	r.GET("/health", handler.HealthCheck)

	api := r.Group("/api")
	api.GET("/books", handler.ListBooks)
	api.GET("/books/:id", handler.GetBook)

	shopper := api.Group("", requireUser(), cartSession())
	shopper.GET("/cart", handler.ViewCart)
	shopper.POST("/cart/items", handler.AddItem)
	shopper.DELETE("/cart/items/:bookId", handler.RemoveItem)
	shopper.POST("/cart/items/:bookId/purchase", handler.PurchaseItem)
	shopper.DELETE("/cart", handler.ClearCart)
	shopper.POST("/cart/checkout", handler.Checkout)

	shopper.POST("/reservations", handler.CreateReservation)
	shopper.GET("/reservations", handler.ListReservations)
	shopper.POST("/reservations/:id/purchase", handler.PurchaseReservation)
	shopper.POST("/reservations/:id/cancel", handler.CancelReservation)

	return r
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader(UserHeader)
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth.userRequired"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// cartSession assigns a cart session id, issuing the cookie when missing
func cartSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookie)
		if err != nil || id == "" {
			id = uuid.New().String()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, id, 0, "/", "", false, true)
		}
		c.Set(sessionKey, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func username(c *gin.Context) string {
	return c.GetString(userKey)
}

func session(c *gin.Context) string {
	return c.GetString(sessionKey)
}
