package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"
	ErrNotAttemptOwner   ErrCode = "NOT_ATTEMPT_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Attempts ──────────────────────────────────────────────────────
	ErrExamNotFound         ErrCode = "EXAM_NOT_FOUND"
	ErrAttemptNotAllowed    ErrCode = "ATTEMPT_NOT_ALLOWED"
	ErrAttemptLimitReached  ErrCode = "ATTEMPT_LIMIT_REACHED"
	ErrAttemptNotFound      ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAttemptNotActive     ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrInvalidQuestion      ErrCode = "INVALID_QUESTION"
	ErrInvalidAnswer        ErrCode = "INVALID_ANSWER"
	ErrIncompleteSubmission ErrCode = "INCOMPLETE_SUBMISSION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrStorageUnavailable ErrCode = "STORAGE_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."
	case ErrNotAttemptOwner:
		return "Percobaan ujian ini milik siswa lain."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Attempts ──────────────────────────────────────────────────────
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrAttemptNotAllowed:
		return "Ujian ini saat ini tidak tersedia."
	case ErrAttemptLimitReached:
		return "Batas jumlah percobaan ujian telah tercapai."
	case ErrAttemptNotFound:
		return "Percobaan ujian tidak ditemukan."
	case ErrAttemptNotActive:
		return "Percobaan ujian sudah berakhir."
	case ErrInvalidQuestion:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan jenis soal."
	case ErrIncompleteSubmission:
		return "Semua soal harus dijawab sebelum mengumpulkan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrStorageUnavailable:
		return "Penyimpanan sementara tidak tersedia. Silakan coba lagi."
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
