package entitlement

const (
	operationRecordPayment  = "record_payment"
	operationRecordDownload = "record_download"
	operationPurgeExpired   = "purge_expired"
	operationFavorite       = "favorite"
	operationUnfavorite     = "unfavorite"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultAdminListLimit bounds cross-user admin ledger reads.
	DefaultAdminListLimit = 1000
)

// preferredCategoryOrder fixes the leading category order for grouped
// download history; categories outside this list follow alphabetically.
var preferredCategoryOrder = []string{"premium", "vocal_chain", "instrument"}
