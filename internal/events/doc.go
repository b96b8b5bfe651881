// Package events streams build progress to a socket.io dashboard.
package events
