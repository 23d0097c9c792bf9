// Package chat is the Twitch IRC front end for the capture commands.
//
// The bot joins TWITCH_CHANNEL and reacts to messages starting with the
// command prefix (default "!"). Only users carrying one of the allowed badges
// (broadcaster and moderator by default) may run commands; everyone else is
// ignored without a reply. Each accepted command runs on its own goroutine
// so a slow upload never blocks the IRC reader, and replies are posted back
// to the channel as single lines.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes.
package chat
