// Package server implements the QuickSpeak relay: a WebSocket server that binds
// connections to application identities and forwards point-to-point chat
// messages between them.
//
// The implementation is organized into specialized files for the connection
// registry, frame routing, liveness monitoring, connection lifecycle,
// configuration and the HTTP surface, so that each piece can be tested with an
// isolated Relay instance.
package server
