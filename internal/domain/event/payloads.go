package event

import "github.com/google/uuid"

// Payloads carry each event type's fields, amounts as NUMERIC strings.
// Migration and split events are tagged with the NEW token's ID so they land
// in the successor generation's cap table fold.

type TokenInitialized struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Decimals  int    `json:"decimals"`
	Authority string `json:"authority"`
}

type WalletApproved struct {
	Wallet     string `json:"wallet"`
	ApprovedBy string `json:"approved_by"`
}

type WalletRevoked struct {
	Wallet    string `json:"wallet"`
	RevokedBy string `json:"revoked_by"`
}

type TokensMinted struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	NewSupply string `json:"new_supply"`
}

type TransferConfirmed struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type TransferRejected struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

type StockSplitExecuted struct {
	SplitID     uuid.UUID `json:"split_id"`
	OldTokenID  uuid.UUID `json:"old_token_id"`
	Ratio       int64     `json:"ratio"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	TotalSupply string    `json:"total_supply"`
	HolderCount int64     `json:"holder_count"`
}

type HolderMigrated struct {
	SplitID    uuid.UUID `json:"split_id"`
	OldTokenID uuid.UUID `json:"old_token_id"`
	Wallet     string    `json:"wallet"`
	Ratio      int64     `json:"ratio"`
	OldBalance string    `json:"old_balance"`
	NewBalance string    `json:"new_balance"`
	Approved   bool      `json:"approved"`
}

type SymbolChanged struct {
	OldSymbol string `json:"old_symbol"`
	NewSymbol string `json:"new_symbol"`
	OldName   string `json:"old_name"`
	NewName   string `json:"new_name"`
}
