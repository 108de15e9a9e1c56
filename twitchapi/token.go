package twitchapi

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AppTokenSource returns a cached Twitch app access (client credentials)
// token source. tokenURL may be empty for the production endpoint. ctx is
// used for every token request and should outlive the source.
//
// NOTE: app tokens cannot be used for IRC chat or moderation; those need
// the bot user token.
func AppTokenSource(ctx context.Context, clientID, clientSecret, tokenURL string) oauth2.TokenSource {
	if tokenURL == "" {
		tokenURL = twitchEndpoint().TokenURL
	}
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return cfg.TokenSource(ctx)
}
