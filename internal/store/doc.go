// Package store defines the job history the API reads from. Implementations live in
// subpackages; nothing here is persisted across restarts.
package store
