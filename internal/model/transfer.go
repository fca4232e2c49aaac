package model

import "time"

// TransferStatus is the lifecycle state of a transfer record.
type TransferStatus string

const (
	TransferNew        TransferStatus = "new"
	TransferInProgress TransferStatus = "in_progress"
	TransferCompleted  TransferStatus = "completed"
	TransferCancelled  TransferStatus = "cancelled"
)

// TransferRecord links a supplier contact with a client contact. The two
// sides must always differ; creation with equal sides is rejected before the
// record reaches the store.
type TransferRecord struct {
	ID                string         `json:"id" validate:"required"`
	SupplierContactID string         `json:"supplier_contact_id" validate:"required"`
	ClientContactID   string         `json:"client_contact_id" validate:"required,nefield=SupplierContactID"`
	Status            TransferStatus `json:"status" validate:"oneof=new in_progress completed cancelled"`
	Notes             string         `json:"notes,omitempty"`
	CreatedAt         time.Time      `json:"created_at,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at,omitempty"`
}
