// Package video encodes scrolling MP4s with ffmpeg, either by panning a crop window over a
// full-page screenshot or by stitching a sequence of scrolled viewport frames.
package video
