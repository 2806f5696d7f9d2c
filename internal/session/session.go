package session

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// Session cookie name constant to ensure consistency
const SessionCookieName = "invoice_session"

const visitorKey = "visitor_id"

// visitorMaxAge keeps a visitor identity for 30 days
const visitorMaxAge = 30 * 24 * 3600

// SessionManager assigns anonymous browser visitors a stable identity
type SessionManager struct {
	logger *log.Logger
	store  *sessions.CookieStore
	secure bool
}

// NewSessionManager creates a new session manager
func NewSessionManager(logger *log.Logger, store *sessions.CookieStore, secure bool) *SessionManager {
	return &SessionManager{
		logger: logger,
		store:  store,
		secure: secure,
	}
}

// NewCookieStore creates the cookie store backing visitor sessions
func NewCookieStore(secret string) *sessions.CookieStore {
	return sessions.NewCookieStore([]byte(secret))
}

// VisitorID returns the visitor identity stored in the session cookie,
// creating and saving a new one when the request has none
func (sm *SessionManager) VisitorID(c *gin.Context) (string, error) {
	session, err := sm.store.Get(c.Request, SessionCookieName)
	if err != nil {
		// Tampered or stale cookies get a fresh session
		sm.logger.Printf("Discarding unreadable session: %v", err)
		session = sessions.NewSession(sm.store, SessionCookieName)
	}

	if id, ok := session.Values[visitorKey].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.New().String()
	session.Values[visitorKey] = id
	session.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   visitorMaxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	}

	if err := sm.store.Save(c.Request, c.Writer, session); err != nil {
		sm.logger.Printf("Failed to save session: %v", err)
		return "", ErrNoSession
	}

	sm.logger.Printf("Assigned visitor %s", id)
	return id, nil
}

// Errors
var (
	ErrNoSession = &gin.Error{Err: http.ErrNoCookie, Meta: "No session could be established"}
)
