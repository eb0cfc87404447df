package server

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/soratobu/lark-front/internal/cookie"
	"github.com/soratobu/lark-front/internal/crypto"
	jsonwriter "github.com/soratobu/lark-front/internal/json"
	"github.com/soratobu/lark-front/internal/log"
	"github.com/soratobu/lark-front/internal/session"
)

//go:embed templates/login.html
var loginPageTemplateHTML string

//go:embed templates/home.html
var homePageTemplateHTML string

var loginPageTemplate = template.Must(template.New("login").Parse(loginPageTemplateHTML))
var homePageTemplate = template.Must(template.New("home").Parse(homePageTemplateHTML))

// LoginPageData is the data for the login page
type LoginPageData struct {
	AuthURL  string
	AppID    string
	Redirect string
}

// HomePageData is the data for the home page
type HomePageData struct {
	User session.User
}

// PageHandlers serves the server-rendered pages
type PageHandlers struct {
	larkClient LarkAPI
	sessions   session.Store
	appID      string
}

// NewPageHandlers creates the page handlers
func NewPageHandlers(larkClient LarkAPI, sessions session.Store, appID string) *PageHandlers {
	return &PageHandlers{
		larkClient: larkClient,
		sessions:   sessions,
		appID:      appID,
	}
}

// LoginHandler renders the login page. It issues the anti-CSRF state
// server-side so the authorize link is complete on first paint; inside the
// Lark host app a script on the page attempts the silent flow instead.
func (h *PageHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogError("Failed to generate login state: %v", err)
		jsonwriter.WriteInternalServerError(w, "Failed to prepare login")
		return
	}
	cookie.SetState(w, state)

	data := LoginPageData{
		AuthURL:  h.larkClient.AuthCodeURL(state),
		AppID:    h.appID,
		Redirect: r.URL.Query().Get("redirect"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPageTemplate.Execute(w, data); err != nil {
		log.LogError("Failed to render login page: %v", err)
	}
}

// HomeHandler renders the home page with the cached profile snapshot. The
// route gate guarantees an access token cookie is present; the snapshot
// avoids a provider round trip on every page view.
func (h *PageHandlers) HomeHandler(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Load(r)

	data := HomePageData{User: sess.User}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homePageTemplate.Execute(w, data); err != nil {
		log.LogError("Failed to render home page: %v", err)
	}
}
