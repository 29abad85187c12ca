package model

import "time"

// Unknown is the sentinel for completion-data fields that could not be
// extracted. Extraction degrades to this value, it never errors.
const Unknown = "unknown"

// TriggerKind identifies which signal declared a run complete.
type TriggerKind string

const (
	TriggerEmailConfirmation      TriggerKind = "email-confirmation"
	TriggerBlockchainConfirmation TriggerKind = "blockchain-confirmation"
	TriggerManual                 TriggerKind = "manual"
	TriggerNone                   TriggerKind = ""
)

// CompletionData is the structured summary extracted from stage
// outputs when a run completes. Every field is either a parsed value or
// the Unknown sentinel.
type CompletionData struct {
	OrderID          string `json:"order_id"`
	BuyerContact     string `json:"buyer_contact"`
	ItemDescription  string `json:"item_description"`
	Quantity         string `json:"quantity"`
	DeliveryLocation string `json:"delivery_location"`
	TotalAmount      string `json:"total_amount"`
	PaymentReference string `json:"payment_reference"`
	LedgerReference  string `json:"ledger_reference"`
}

// UnknownCompletionData returns a CompletionData with every field set
// to the Unknown sentinel.
func UnknownCompletionData() CompletionData {
	return CompletionData{
		OrderID:          Unknown,
		BuyerContact:     Unknown,
		ItemDescription:  Unknown,
		Quantity:         Unknown,
		DeliveryLocation: Unknown,
		TotalAmount:      Unknown,
		PaymentReference: Unknown,
		LedgerReference:  Unknown,
	}
}

// CompletionState tracks the per-run completion display lifecycle.
// Once HasShownCard or CardDismissed is true, no further trigger fires
// until an explicit reset.
type CompletionState struct {
	IsCompleted    bool           `json:"is_completed"`
	Trigger        TriggerKind    `json:"trigger,omitempty"`
	TriggerStageID string         `json:"trigger_stage_id,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Data           CompletionData `json:"data"`
	BlockedSources []string       `json:"blocked_sources,omitempty"`
	RejectedAfter  []TriggerKind  `json:"rejected_after,omitempty"`
	HasShownCard   bool           `json:"has_shown_card"`
	CardDismissed  bool           `json:"card_dismissed"`
}
