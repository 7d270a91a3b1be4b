package common

const (
	InvoiceStatePending   = "pending"
	InvoiceStatePaid      = "paid"
	InvoiceStateSwept     = "swept"
	InvoiceStateCancelled = "cancelled"

	AssetFamilyNative = "native"
	AssetFamilyToken  = "token"

	// URI schemes for the payment descriptor, per asset family
	PaymentSchemeNative = "ethereum"
	PaymentSchemeToken  = "solana"
)
