package usercontext

// Shared Locals/session keys used across controllers and middlewares.
// The main web app writes the user keys at login.
const (
	KeyUserContext = "USER_CONTEXT"
	KeyUserID      = "user_id"
	KeyUsername    = "username"
	KeyIsAdmin     = "isAdmin"
	KeyCurrency    = "currency"
)
