// Package window looks up top-level windows on the display server.
package window

import (
	"errors"
	"image"
)

// ErrNotFound is returned when a window id does not name a top-level window.
var ErrNotFound = errors.New("window not found")

// Geometry is a window rectangle in root coordinates
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the geometry as an image.Rectangle
func (g Geometry) Rect() image.Rectangle {
	return image.Rect(g.X, g.Y, g.X+g.Width, g.Y+g.Height)
}

// Info describes a top-level window
type Info struct {
	ID       uint32   `json:"id"`
	Title    string   `json:"title"`
	Class    string   `json:"class"`
	PID      int      `json:"pid"`
	Desktop  int      `json:"desktop"`
	Geometry Geometry `json:"geometry"`
	// Mapped is true when the window and all its ancestors are viewable.
	Mapped bool `json:"mapped"`
}

// Backend defines the interface for window discovery backends
type Backend interface {
	// ListWindows returns all application windows
	ListWindows() ([]*Info, error)

	// Lookup returns the window with the given id or ErrNotFound
	Lookup(id uint32) (*Info, error)

	// Close releases the display connection if the backend owns it
	Close() error

	// Name returns the backend name (e.g., "x11")
	Name() string
}
