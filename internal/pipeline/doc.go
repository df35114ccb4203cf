// Package pipeline runs one asset-generation job end to end: admission, capture, color
// extraction, collage, video, and guaranteed cleanup of the job workspace.
//
// Only one job runs at a time. A second caller is rejected with a Busy error instead of
// queueing, and so is any caller while memory use is above the configured threshold.
package pipeline
