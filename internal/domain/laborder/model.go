package laborder

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderScheduled          OrderStatus = "Scheduled"
	OrderPartiallyCollected OrderStatus = "Partially Collected"
	OrderPending            OrderStatus = "Pending"
	OrderComplete           OrderStatus = "Complete"
)

type SampleStatus string

const (
	SampleAwaitingCollection   SampleStatus = "AwaitingCollection"
	SampleCollected            SampleStatus = "Collected"
	SampleInLab                SampleStatus = "InLab"
	SampleTesting              SampleStatus = "Testing"
	SampleAwaitingVerification SampleStatus = "AwaitingVerification"
	SampleVerified             SampleStatus = "Verified"
	SampleRejected             SampleStatus = "Rejected"
)

type VerificationStatus string

const (
	TestAwaitingVerification VerificationStatus = "AwaitingVerification"
	TestVerified             VerificationStatus = "Verified"
)

type Priority string

const (
	PrioritySTAT    Priority = "STAT"
	PriorityRoutine Priority = "Routine"
)

// FlagDeltaCheckFailed marks a result that disagrees with the patient's
// previous result for the same analyte.
const FlagDeltaCheckFailed = "DELTA_CHECK_FAILED"

// Order exclusively owns its samples; Status is derived from them.
type Order struct {
	ID          string      `json:"order_id"`
	PatientID   uuid.UUID   `json:"patient_id"`
	PhysicianID string      `json:"physician_id"`
	Priority    Priority    `json:"priority"`
	Status      OrderStatus `json:"order_status"`
	Notes       string      `json:"notes,omitempty"`
	Samples     []Sample    `json:"samples"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Sample is one specimen. AccessionNumber is set exactly when the sample has
// reached InLab or beyond.
type Sample struct {
	SampleID        string       `json:"sample_id"`
	Type            string       `json:"sample_type"`
	Status          SampleStatus `json:"status"`
	AccessionNumber string       `json:"accession_number,omitempty"`
	CollectedAt     *time.Time   `json:"collection_timestamp,omitempty"`
	CollectedBy     string       `json:"collected_by,omitempty"`
	ReceivedAt      *time.Time   `json:"received_timestamp,omitempty"`
	ReceivedBy      string       `json:"received_by,omitempty"`
	Rejection       *Rejection   `json:"rejection,omitempty"`
	Tests           []Test       `json:"tests"`
	// Version increments on every write and guards concurrent updates.
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Rejection struct {
	Reason string    `json:"reason"`
	By     string    `json:"by"`
	At     time.Time `json:"at"`
}

type Test struct {
	Code               string             `json:"code"`
	Name               string             `json:"name,omitempty"`
	Value              *string            `json:"value,omitempty"`
	Unit               string             `json:"unit,omitempty"`
	ResultEnteredBy    string             `json:"result_entered_by,omitempty"`
	ResultEnteredAt    *time.Time         `json:"result_entered_at,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
	IsAbnormal         bool               `json:"is_abnormal"`
	Flags              []string           `json:"flags,omitempty"`
	VerifiedBy         string             `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Samples = make([]Sample, len(o.Samples))
	for i := range o.Samples {
		cp.Samples[i] = o.Samples[i].clone()
	}
	return &cp
}

func (s Sample) clone() Sample {
	cp := s
	if s.Rejection != nil {
		r := *s.Rejection
		cp.Rejection = &r
	}
	cp.Tests = make([]Test, len(s.Tests))
	for i, t := range s.Tests {
		if t.Flags != nil {
			t.Flags = append([]string(nil), t.Flags...)
		}
		cp.Tests[i] = t
	}
	return cp
}

func (o *Order) sampleStatuses() []SampleStatus {
	out := make([]SampleStatus, len(o.Samples))
	for i, s := range o.Samples {
		out[i] = s.Status
	}
	return out
}

// Requests and results.

type TestRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type SampleRequest struct {
	Type  string        `json:"sample_type"`
	Tests []TestRequest `json:"tests"`
}

type CreateOrderRequest struct {
	// PatientID accepts the patient's UUID or MRN.
	PatientID   string          `json:"patient_id"`
	PhysicianID string          `json:"physician_id"`
	Priority    Priority        `json:"priority"`
	Notes       string          `json:"notes"`
	Samples     []SampleRequest `json:"samples"`
}

type ResultInput struct {
	Code  string `json:"code"`
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

type CollectResult struct {
	OrderID             string      `json:"order_id"`
	SampleID            string      `json:"sample_id"`
	CollectionTimestamp time.Time   `json:"collection_timestamp"`
	OrderStatus         OrderStatus `json:"order_status"`
}

type AccessionResult struct {
	OrderID           string      `json:"order_id"`
	SampleID          string      `json:"sample_id"`
	AccessionNumber   string      `json:"accession_number"`
	ReceivedTimestamp time.Time   `json:"received_timestamp"`
	OrderStatus       OrderStatus `json:"order_status"`
}

type TransitionResult struct {
	OrderID     string       `json:"order_id"`
	SampleID    string       `json:"sample_id"`
	Status      SampleStatus `json:"status"`
	OrderStatus OrderStatus  `json:"order_status"`
}

type VerifyResult struct {
	OrderID         string       `json:"order_id"`
	AccessionNumber string       `json:"accession_number"`
	NewStatus       SampleStatus `json:"new_status"`
	OrderStatus     OrderStatus  `json:"order_status"`
	Tests           []Test       `json:"tests"`
	Unmatched       []string     `json:"unmatched,omitempty"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	PatientID   *uuid.UUID
	PhysicianID string
	Status      OrderStatus
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderScheduled, OrderPartiallyCollected, OrderPending, OrderComplete:
		return true
	}
	return false
}
