package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrNotOwner          ErrCode = "NOT_OWNER"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrExamNotAvailable     ErrCode = "EXAM_NOT_AVAILABLE"
	ErrAttemptLimitExceeded ErrCode = "ATTEMPT_LIMIT_EXCEEDED"
	ErrAttemptNotFound      ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAttemptNotInProgress ErrCode = "ATTEMPT_NOT_IN_PROGRESS"
	ErrQuestionNotInAttempt ErrCode = "QUESTION_NOT_IN_ATTEMPT"

	// ─── Exam catalog ──────────────────────────────────────────────────
	ErrExamNotDraft  ErrCode = "EXAM_NOT_DRAFT"
	ErrNoQuestions   ErrCode = "NO_QUESTIONS"
	ErrNotExamAuthor ErrCode = "NOT_EXAM_AUTHOR"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."
	case ErrTokenExpired:
		return "The authentication token has expired."

	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrNotOwner:
		return "This attempt belongs to another student."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrAdminAccessOnly:
		return "This resource is restricted to administrators."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid identifier format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	case ErrExamNotAvailable:
		return "This exam is not currently available."
	case ErrAttemptLimitExceeded:
		return "You have used all allowed attempts for this exam."
	case ErrAttemptNotFound:
		return "Attempt not found."
	case ErrAttemptNotInProgress:
		return "This attempt has already been finalized."
	case ErrQuestionNotInAttempt:
		return "This question is not part of the attempt."

	case ErrExamNotDraft:
		return "This exam is not in DRAFT status."
	case ErrNoQuestions:
		return "This exam has no questions."
	case ErrNotExamAuthor:
		return "You are not the author of this exam."

	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
