package twitchapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// OAuth runs the authorization code and refresh grants for the bot account.
// Config is exported so tests can point the endpoint at a mock server.
type OAuth struct {
	Config oauth2.Config
}

// twitchEndpoint is endpoints.Twitch with credentials sent in the form body,
// which the Twitch token endpoint requires.
func twitchEndpoint() oauth2.Endpoint {
	ep := endpoints.Twitch
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

// NewOAuth returns a Twitch OAuth client. scopes may be separated by spaces
// or commas.
func NewOAuth(clientID, clientSecret, redirectURI, scopes string) *OAuth {
	return &OAuth{Config: oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       SplitScopes(scopes),
		Endpoint:     twitchEndpoint(),
	}}
}

// SplitScopes splits a space or comma separated scope list.
func SplitScopes(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}

// AuthorizeURL constructs the user authorization URL for the code grant.
func (o *OAuth) AuthorizeURL(state string) (string, error) {
	if o.Config.ClientID == "" || o.Config.RedirectURL == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return o.Config.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for access and refresh tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if o.Config.ClientID == "" || o.Config.ClientSecret == "" || code == "" || o.Config.RedirectURL == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	return o.Config.Exchange(ctx, code)
}

// Refresh exchanges a refresh token for a new token.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if o.Config.ClientID == "" || o.Config.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	return o.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Scope returns the granted scopes of tok as one space separated string.
// Twitch reports them as a JSON array.
func Scope(tok *oauth2.Token) string {
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// Expiry returns the absolute expiry of tok, defaulting to +60m when the
// provider did not report one.
func Expiry(tok *oauth2.Token) time.Time {
	if tok.Expiry.IsZero() {
		return time.Now().Add(60 * time.Minute)
	}
	return tok.Expiry
}
