package constants

// JobType identifies which processing engine handles a job.
type JobType string

// Stable values (store these exact strings in DB).
const (
	JobTypeCompress         JobType = "compress"
	JobTypeOCR              JobType = "ocr"
	JobTypeConvert          JobType = "convert"
	JobTypeExtractInvoice   JobType = "extract-invoice"
	JobTypeExtractStatement JobType = "extract-statement"
)

// AllJobTypes lists every job type the backend accepts.
var AllJobTypes = []JobType{
	JobTypeCompress,
	JobTypeOCR,
	JobTypeConvert,
	JobTypeExtractInvoice,
	JobTypeExtractStatement,
}

// IsValidJobType reports whether t names a known engine.
func IsValidJobType(t JobType) bool {
	for _, v := range AllJobTypes {
		if v == t {
			return true
		}
	}
	return false
}
