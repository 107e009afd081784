// Package llmfactory creates the decision engines of the agents from the provider configuration,
// and selects the model of an agent by name.
package llmfactory
