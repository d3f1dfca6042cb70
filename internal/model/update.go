package model

import (
	"fmt"
	"time"

	"github.com/oarkflow/json"
)

// UpdateType names an update variant
type UpdateType string

const (
	UpdateTypeDocumentsDeletion UpdateType = "DocumentsDeletion"
)

// Update is a pending index mutation. The set of variants is closed.
type Update interface {
	Type() UpdateType
	isUpdate()
}

// DocumentsDeletion removes every trace of the listed documents
type DocumentsDeletion struct {
	DocumentIDs []DocumentID `json:"document_ids"`
}

func (*DocumentsDeletion) Type() UpdateType { return UpdateTypeDocumentsDeletion }
func (*DocumentsDeletion) isUpdate()        {}

// updateEnvelope is the persisted form of an Update: an object with exactly
// one field named after the variant.
type updateEnvelope struct {
	DocumentsDeletion *DocumentsDeletion `json:"DocumentsDeletion,omitempty"`
}

// EncodeUpdate serializes an update as a tagged JSON object
func EncodeUpdate(u Update) ([]byte, error) {
	var env updateEnvelope
	switch v := u.(type) {
	case *DocumentsDeletion:
		env.DocumentsDeletion = v
	default:
		return nil, fmt.Errorf("unknown update type %T", u)
	}
	return json.Marshal(&env)
}

// DecodeUpdate parses an update written by EncodeUpdate
func DecodeUpdate(data []byte) (Update, error) {
	var env updateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch {
	case env.DocumentsDeletion != nil:
		return env.DocumentsDeletion, nil
	default:
		return nil, fmt.Errorf("update carries no known variant")
	}
}

// ProcessedUpdateResult records the outcome of one applied update
type ProcessedUpdateResult struct {
	UpdateID         uint64     `json:"update_id"`
	UpdateType       UpdateType `json:"update_type"`
	Error            string     `json:"error,omitempty"`
	DurationNanos    int64      `json:"duration_ns"`
	DeletedDocuments uint64     `json:"deleted_documents"`
	RemovedTerms     int        `json:"removed_terms"`
	ProcessedAt      time.Time  `json:"processed_at"`
}

// Succeeded reports whether the update was applied
func (r *ProcessedUpdateResult) Succeeded() bool {
	return r.Error == ""
}

// Duration returns how long applying the update took
func (r *ProcessedUpdateResult) Duration() time.Duration {
	return time.Duration(r.DurationNanos)
}

// UpdateStatus is the lifecycle state of an update id
type UpdateStatus string

const (
	UpdateStatusEnqueued  UpdateStatus = "enqueued"
	UpdateStatusProcessed UpdateStatus = "processed"
	UpdateStatusFailed    UpdateStatus = "failed"
	UpdateStatusUnknown   UpdateStatus = "unknown"
)

// Stats summarizes an index
type Stats struct {
	NumberOfDocuments uint64         `json:"number_of_documents"`
	IsIndexing        bool           `json:"is_indexing"`
	FieldsFrequency   map[string]int `json:"fields_frequency"`
}
