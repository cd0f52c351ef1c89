package model

import "time"

// BatchStatus is the derived aggregate over a batch's members. It is computed
// at read time and never stored.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
)

// BatchRecord groups the task ids created from one batch submission.
type BatchRecord struct {
	BatchID   string    `json:"batch_id"`
	TaskIDs   []string  `json:"task_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// DeriveBatchStatus aggregates member statuses: pending while any member is
// non-terminal, otherwise completed/failed when uniform and partial when mixed.
func DeriveBatchStatus(statuses []TaskStatus) BatchStatus {
	completed, failed := 0, 0
	for _, s := range statuses {
		switch s {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		default:
			return BatchPending
		}
	}
	switch {
	case failed == 0:
		return BatchCompleted
	case completed == 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}
