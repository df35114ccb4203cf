// Package shot defines the data model, error taxonomy, and capability interfaces shared by the
// asset-generation pipeline.
package shot
