package model

import "time"

type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// SubmissionResult is what the orchestrator reports for one broadcast
// transaction. Status leaves pending only through confirmation polling.
type SubmissionResult struct {
	TxHash      string     `json:"tx_hash"`
	Sender      string     `json:"sender"`
	Sequence    uint64     `json:"sequence"`
	Status      TxStatus   `json:"status"`
	BlockNumber uint64     `json:"block_number,omitempty"`
	GasUsed     uint64     `json:"gas_used,omitempty"`
	ExplorerURL string     `json:"explorer_url"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// SubmissionRecord is the journal entry kept for every submission attempt
// that reached the chain or was refused by it.
type SubmissionRecord struct {
	ID        string     `json:"id" gorm:"primaryKey;type:text"`
	TenantID  string     `json:"tenant_id" gorm:"index"`
	Operation IntentKind `json:"operation"`
	TxHash    string     `json:"tx_hash,omitempty" gorm:"index"`
	Sender    string     `json:"sender"`
	Sequence  uint64     `json:"sequence"`
	Status    TxStatus   `json:"status"`
	ErrorCode string     `json:"error_code,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Message   string     `json:"message,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt time.Time  `json:"updated_at"`
}
