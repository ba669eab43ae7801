// Package output streams repeated captures to viewers that cannot speak the
// bridge protocol, such as a browser tab.
package output

import (
	"context"
	"image"
)

// Source produces the next frame. It is called only while a viewer is connected.
type Source func(ctx context.Context) (*image.RGBA, error)

// Config holds the stream rate and JPEG quality
type Config struct {
	FPS     int
	Quality int
}

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = 2
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = 80
	}
	return c
}
