// Package ws relays transfer events to local UI subscribers over
// WebSocket. The relay is one-directional: progress and completion
// events fan out to every connected client; the only client message
// handled is a keep-alive ping.
package ws
