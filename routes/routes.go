package routes

import (
	"fmt"
	"net/http"

	"tiffin/ratelim"
	"tiffin/sandbox"

	"github.com/julienschmidt/httprouter"
)

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

func AddAuthRoutes(router *httprouter.Router, s *sandbox.Server, rl *ratelim.RateLimiter) {
	router.POST("/api/auth/register", rl.Limit(s.Register))
	router.POST("/api/auth/login", rl.Limit(s.Login))
}

func AddCartRoutes(router *httprouter.Router, s *sandbox.Server) {
	router.POST("/api/cart/items", s.Authenticated(s.AddCartItem))
	router.POST("/api/cart/increment", s.Authenticated(s.IncrementCartLine))
	router.POST("/api/cart/decrement", s.Authenticated(s.DecrementCartLine))
	router.GET("/api/cart/:cartid", s.Authenticated(s.GetCart))
}

func AddOrderRoutes(router *httprouter.Router, s *sandbox.Server) {
	router.POST("/api/orders", s.Authenticated(s.CreateOrder))
	router.GET("/api/orders/feed", s.Authenticated(s.OrderFeed))
	// Drives restaurant acceptance/rejection in local development
	router.POST("/api/admin/orders/:orderid/status", s.Authenticated(s.SetOrderStatus))
}

func AddPaymentRoutes(router *httprouter.Router, s *sandbox.Server) {
	router.POST("/api/payments/intent", s.Authenticated(s.CreatePaymentIntent))
	router.POST("/api/payments/verify", s.Authenticated(s.VerifyPayment))
}

func AddWalletRoutes(router *httprouter.Router, s *sandbox.Server) {
	router.POST("/api/wallet", s.Authenticated(s.Wallet))
}

// New builds the sandbox router with all routes.
func New(s *sandbox.Server, rl *ratelim.RateLimiter) *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", Index)

	AddAuthRoutes(router, s, rl)
	AddCartRoutes(router, s)
	AddOrderRoutes(router, s)
	AddPaymentRoutes(router, s)
	AddWalletRoutes(router, s)

	return router
}
