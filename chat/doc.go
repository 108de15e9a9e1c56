// Package chat connects the bot to Twitch chat.
//
// It provides two pieces:
//   - Client: joins the channel over IRC, converts private messages and
//     whispers into commands.ChatMessage values and feeds each one through
//     activity observers, link moderation and the command dispatcher.
//   - Sender: the commands.ChatSender used by handlers. Channel messages go
//     out over IRC, whispers and message deletion go through Helix, and all
//     outbound chat shares one rate limiter.
//
// Credentials: the IRC client requires a bot username and a user token with
// chat:read/chat:edit scopes. If TWITCH_OAUTH_TOKEN is not provided, main
// falls back to the token stored for provider "twitch" by the OAuth flow.
package chat
