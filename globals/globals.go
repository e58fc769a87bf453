package globals

// Context keys
type ContextKey string

const RoleKey ContextKey = "role"
const UserIDKey ContextKey = "userId"
const CartIDKey ContextKey = "cartId"

// Session-store keys for the per-role signed tokens.
const (
	CustomerTokenKey   = "token:customer"
	RestaurantTokenKey = "token:restaurant"
	RiderTokenKey      = "token:rider"
)

// All amounts are integer minor units (paise).
const DefaultCurrency = "INR"
