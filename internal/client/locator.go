package client

import (
	"context"
	"errors"

	"github.com/comigor/healthchat-go/internal/chat"
	"github.com/comigor/healthchat-go/internal/config"
)

// ErrNoPosition is returned when no coordinates are configured.
var ErrNoPosition = errors.New("no position configured")

// StaticLocator reports the position configured for the client.
type StaticLocator struct {
	loc *chat.Location
}

// NewStaticLocator builds a locator from the client coordinates. Both must
// be set for a position to be reported.
func NewStaticLocator(cfg config.ClientConfig) *StaticLocator {
	l := &StaticLocator{}
	if cfg.Latitude != nil && cfg.Longitude != nil {
		l.loc = &chat.Location{Lat: *cfg.Latitude, Lng: *cfg.Longitude}
	}
	return l
}

// CurrentPosition implements chat.Locator.
func (l *StaticLocator) CurrentPosition(ctx context.Context) (*chat.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.loc == nil {
		return nil, ErrNoPosition
	}
	loc := *l.loc
	return &loc, nil
}
