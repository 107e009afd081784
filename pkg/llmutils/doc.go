// Package llmutils provides helpers to clean and format the text exchanged with a model.
package llmutils
