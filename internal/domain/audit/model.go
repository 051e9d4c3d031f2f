package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action is the closed vocabulary of audited operations.
type Action string

const (
	ActionPatientRegistered    Action = "PATIENT_REGISTERED"
	ActionPatientUpdated       Action = "PATIENT_UPDATED"
	ActionOrderCreated         Action = "ORDER_CREATED"
	ActionSampleCollected      Action = "SAMPLE_COLLECTED"
	ActionSampleAccessioned    Action = "SAMPLE_ACCESSIONED"
	ActionSampleTestingStarted Action = "SAMPLE_TESTING_STARTED"
	ActionSampleRejected       Action = "SAMPLE_REJECTED"
	ActionResultsEntered       Action = "RESULTS_ENTERED"
	ActionResultVerified       Action = "RESULT_VERIFIED"
	ActionUserCreated          Action = "USER_CREATED"
	ActionUserUpdated          Action = "USER_UPDATED"
	ActionInventoryAdjusted    Action = "INVENTORY_ADJUSTED"
	ActionInventoryItemCreated Action = "INVENTORY_ITEM_CREATED"
)

var knownActions = map[Action]bool{
	ActionPatientRegistered: true, ActionPatientUpdated: true, ActionOrderCreated: true,
	ActionSampleCollected: true, ActionSampleAccessioned: true, ActionSampleTestingStarted: true,
	ActionSampleRejected: true, ActionResultsEntered: true, ActionResultVerified: true,
	ActionUserCreated: true, ActionUserUpdated: true, ActionInventoryAdjusted: true,
	ActionInventoryItemCreated: true,
}

func (a Action) Valid() bool { return knownActions[a] }

// Collections named in audit targets.
const (
	CollectionPatients  = "patients"
	CollectionOrders    = "lab_orders"
	CollectionUsers     = "users"
	CollectionInventory = "inventory_items"
)

// Actor identifies who performed an action and from where.
type Actor struct {
	ID     string
	Role   string
	Origin string
}

type Target struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Details carries action-specific structured data.
type Details map[string]interface{}

// Entry is immutable once written.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role,omitempty"`
	Action     Action    `json:"action"`
	Target     Target    `json:"target"`
	Details    Details   `json:"details,omitempty"`
	Origin     string    `json:"origin,omitempty"`
}

// Filter narrows Search. Empty fields match everything.
type Filter struct {
	Action     Action
	ActorID    string
	Collection string
	TargetID   string
}

func (f Filter) matches(e *Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Collection != "" && e.Target.Collection != f.Collection {
		return false
	}
	if f.TargetID != "" && e.Target.ID != f.TargetID {
		return false
	}
	return true
}
