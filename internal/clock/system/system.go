// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/siteshot/internal/shot"
)

var _ shot.Clock = Clock{}

// Clock implements shot.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC so job timestamps serialize without an offset.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
