package middleware

import (
	"context"
	"net/http"

	"tiffin/globals"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// JWT claims
type Claims struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
	CartID   string `json:"cartId"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Chain applies wrappers right to left around a handler.
func Chain(wrappers ...func(httprouter.Handle) httprouter.Handle) func(httprouter.Handle) httprouter.Handle {
	return func(final httprouter.Handle) httprouter.Handle {
		for i := len(wrappers) - 1; i >= 0; i-- {
			final = wrappers[i](final)
		}
		return final
	}
}

// Authenticate validates the bearer token with the given secret and stores
// the caller's ids in the request context. WebSocket clients without header
// support may pass the token as a query parameter instead.
func Authenticate(secret []byte) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			tokenString := r.Header.Get("Authorization")
			if len(tokenString) >= 8 && tokenString[:7] == "Bearer " {
				tokenString = tokenString[7:]
			} else if websocket.IsWebSocketUpgrade(r) {
				tokenString = r.URL.Query().Get("token")
			} else {
				tokenString = ""
			}
			if tokenString == "" {
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), globals.UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, globals.CartIDKey, claims.CartID)
			ctx = context.WithValue(ctx, globals.RoleKey, claims.Role)
			next(w, r.WithContext(ctx), ps)
		}
	}
}

// GetUserID reads the authenticated user id from the request context.
func GetUserID(r *http.Request) string {
	if v, ok := r.Context().Value(globals.UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetCartID reads the authenticated cart id from the request context.
func GetCartID(r *http.Request) string {
	if v, ok := r.Context().Value(globals.CartIDKey).(string); ok {
		return v
	}
	return ""
}
