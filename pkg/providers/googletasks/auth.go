package googletasks

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/tasks/v1"
)

// userinfoEmailScope is requested alongside the tasks scope so the boundary
// layer can identify the user
const userinfoEmailScope = "https://www.googleapis.com/auth/userinfo.email"

// OAuthConfig holds OAuth configuration
type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

// Token is a stored Google credential
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// AuthHandler builds OAuth clients for the Google Tasks API
type AuthHandler struct {
	config *oauth2.Config
}

// NewAuthHandler creates a new Google Tasks auth handler
func NewAuthHandler(oauthConfig OAuthConfig) *AuthHandler {
	config := &oauth2.Config{
		ClientID:     oauthConfig.ClientID,
		ClientSecret: oauthConfig.ClientSecret,
		RedirectURL:  oauthConfig.RedirectURL,
		Scopes: []string{
			tasks.TasksScope,
			userinfoEmailScope,
		},
		Endpoint: google.Endpoint,
	}

	return &AuthHandler{config: config}
}

// GetAuthURL generates the OAuth authorization URL used to re-authorize a
// user whose credential was rejected
func (h *AuthHandler) GetAuthURL(state string) string {
	return h.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// TokenSource returns a source that refreshes the stored token when it
// expires. Without a client id the access token is used as is.
func (h *AuthHandler) TokenSource(ctx context.Context, token Token) (oauth2.TokenSource, error) {
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("google credential is empty")
	}

	t := &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		TokenType:    "Bearer",
	}

	if h.config.ClientID == "" || token.RefreshToken == "" {
		return oauth2.StaticTokenSource(t), nil
	}
	return h.config.TokenSource(ctx, t), nil
}
