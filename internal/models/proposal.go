package models

import (
	"encoding/json"
	"time"
)

// ProposalStatus is the review state of a proposed node.
type ProposalStatus string

const (
	ProposalProposed ProposalStatus = "proposed"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Provenance records where a proposal came from.
type Provenance struct {
	RunID       string             `json:"run_id"`
	DocumentIDs []string           `json:"document_ids"`
	Provider    string             `json:"provider,omitempty"`
	Model       string             `json:"model,omitempty"`
	Strategy    ExtractionStrategy `json:"strategy,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ProposedNode is the persisted boundary object: a serialized node awaiting
// a human accept/reject decision. It is the only entity that crosses into
// durable storage; transition to accepted/rejected happens elsewhere.
type ProposedNode struct {
	ID         string          `json:"id,omitempty"`
	NodeJSON   json.RawMessage `json:"node_json"`
	Status     ProposalStatus  `json:"status"`
	Confidence float64         `json:"confidence"`
	Provenance Provenance      `json:"provenance"`
}

// NewProposedNode serializes a node into a pending proposal.
func NewProposedNode(node ExtractedNode, confidence float64, prov Provenance) (ProposedNode, error) {
	raw, err := json.Marshal(node)
	if err != nil {
		return ProposedNode{}, err
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return ProposedNode{
		NodeJSON:   raw,
		Status:     ProposalProposed,
		Confidence: confidence,
		Provenance: prov,
	}, nil
}
