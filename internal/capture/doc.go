// Package capture drives a headless browser to rasterize web pages. Each capture launches its
// own browser and closes it as soon as the pixels are in hand.
package capture
