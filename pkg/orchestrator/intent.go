// Package orchestrator classifies query intent, fans sub-queries out to
// the brains, and synthesizes a single answer with provenance.
package orchestrator

import (
	"github.com/soundprediction/go-cortex/pkg/packet"
)

// IntentType is the coarse classification of a query.
type IntentType string

const (
	IntentSemantic     IntentType = "semantic"
	IntentRelationship IntentType = "relationship"
	IntentMetadata     IntentType = "metadata"
	IntentHybrid       IntentType = "hybrid"
)

// Valid reports whether t is a known intent type.
func (t IntentType) Valid() bool {
	switch t {
	case IntentSemantic, IntentRelationship, IntentMetadata, IntentHybrid:
		return true
	}
	return false
}

// Intent is the transient classification result for one query. It is
// created per query and never persisted.
type Intent struct {
	Type           IntentType          `json:"type"`
	PrimaryBrain   packet.Capability   `json:"primary_brain"`
	FallbackBrains []packet.Capability `json:"fallback_brains"`
	Confidence     float64             `json:"confidence"`
}

// routeForIntent maps an intent type onto a primary brain and its ordered
// fallback/complement list.
func routeForIntent(t IntentType) (packet.Capability, []packet.Capability) {
	switch t {
	case IntentRelationship:
		return packet.CapabilityGraph, []packet.Capability{packet.CapabilityVector, packet.CapabilityAnalytical}
	case IntentMetadata:
		return packet.CapabilityAnalytical, []packet.Capability{packet.CapabilityVector}
	case IntentHybrid:
		return packet.CapabilityVector, []packet.Capability{packet.CapabilityGraph, packet.CapabilityAnalytical}
	default:
		return packet.CapabilityVector, []packet.Capability{packet.CapabilityGraph}
	}
}

// NewIntent builds an Intent for a type with the standard routing.
func NewIntent(t IntentType, confidence float64) Intent {
	primary, fallbacks := routeForIntent(t)
	return Intent{
		Type:           t,
		PrimaryBrain:   primary,
		FallbackBrains: fallbacks,
		Confidence:     confidence,
	}
}
