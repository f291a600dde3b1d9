package validate

// ErrorCode identifies a failed business-rule gate
type ErrorCode string

const (
	CodeOK ErrorCode = "OK"

	CodeDateEmpty   ErrorCode = "DATE_EMPTY"
	CodeDateRange   ErrorCode = "DATE_RANGE"
	CodeDateInvalid ErrorCode = "DATE_INVALID"

	CodeAmountEmpty  ErrorCode = "AMOUNT_EMPTY"
	CodeAmountNonPos ErrorCode = "AMOUNT_NONPOS"
	CodeAmountRange  ErrorCode = "AMOUNT_RANGE"

	CodeChequeEmpty   ErrorCode = "CHEQUE_EMPTY"
	CodeChequePattern ErrorCode = "CHEQUE_PATTERN"

	CodePayeeEmpty       ErrorCode = "PAYEE_EMPTY"
	CodePayeeTooShort    ErrorCode = "PAYEE_TOO_SHORT"
	CodePayeeNotInMaster ErrorCode = "PAYEE_NOT_IN_MASTER"

	CodeCurrencyInvalid ErrorCode = "CURRENCY_INVALID"
)
