// Package model holds the shared types passed between the resourcesync
// subsystems: scopes, records, identities, priorities and statuses.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/venturetrail/resourcesync/pkg/content"
)

// Kind discriminates resource types, e.g. "swot_analysis" or
// "business_model_canvas".
type Kind string

// Scope identifies the place in the journey a resource belongs to:
// a step, an optional sub-step, and the section title the resource is
// rendered under. The section title is the part that has been renamed
// over the product's history, which is why record resolution cannot
// assume a single spelling (see pkg/resolve).
type Scope struct {
	StepID    string
	SubStepID string
	Section   string
}

// ID returns the step identifier of the scope, including the sub-step
// when one is present.
func (s Scope) ID() string {
	if s.SubStepID == "" {
		return s.StepID
	}
	return s.StepID + ":" + s.SubStepID
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s", s.ID(), s.Section)
}

// Identity is the authenticated user as reported by the identity
// provider. A nil *Identity means "not signed in".
type Identity struct {
	ID    string
	Email string
	Token string
}

// AuthEventType is the kind of notification delivered by an identity
// provider's event stream.
type AuthEventType string

const (
	SignedIn  AuthEventType = "signed_in"
	SignedOut AuthEventType = "signed_out"
)

// AuthEvent is a sign-in or sign-out notification. Identity is set for
// SignedIn events and nil for SignedOut.
type AuthEvent struct {
	Type     AuthEventType
	Identity *Identity
}

// Record is the persisted unit of user work. Logically unique per
// (OwnerID, scope, canonical section key, Kind); physically identified
// by ID once created. Historical duplicates under legacy section-key
// spellings exist and are tolerated by search-merging, never assumed
// away.
type Record struct {
	ID                 string       `json:"id"`
	OwnerID            string       `json:"owner_id"`
	StepID             string       `json:"step_id"`
	SubStepID          string       `json:"sub_step_id,omitempty"`
	SectionKey         string       `json:"section_key"`
	OriginalSectionKey string       `json:"original_section_key,omitempty"`
	Kind               Kind         `json:"kind"`
	Content            *content.Map `json:"content"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Priority orders pending saves. Lower values drain first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "invalid"
	}
}

// ParsePriority maps the wire spelling back to a Priority, defaulting
// to normal for unknown input.
func ParsePriority(s string) Priority {
	switch strings.ToLower(s) {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// SaveStatus is the coarse persistence state surfaced to the form
// layer. It is advisory: saves are fire-and-forget and the status
// trails the queue asynchronously.
type SaveStatus string

const (
	StatusLoading SaveStatus = "loading"
	StatusPending SaveStatus = "pending"
	StatusSaving  SaveStatus = "saving"
	StatusSuccess SaveStatus = "success"
	StatusError   SaveStatus = "error"
)
