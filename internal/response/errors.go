package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden           ErrCode = "FORBIDDEN"
	ErrCandidateAccessOnly ErrCode = "CANDIDATE_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidOption  ErrCode = "INVALID_OPTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrNoQuestions          ErrCode = "NO_QUESTIONS"
	ErrAttemptCreation      ErrCode = "ATTEMPT_CREATION_FAILED"
	ErrConfirmationRequired ErrCode = "CONFIRMATION_REQUIRED"
	ErrAttemptFinalized     ErrCode = "ATTEMPT_FINALIZED"
	ErrSubmissionInFlight   ErrCode = "SUBMISSION_IN_PROGRESS"
	ErrSubmissionFailed     ErrCode = "SUBMISSION_FAILED"
	ErrAttemptNotFinalized  ErrCode = "ATTEMPT_NOT_FINALIZED"
	ErrPersistenceDelayed   ErrCode = "PERSISTENCE_DELAYED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal           ErrCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token tidak valid atau sudah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki akses ke percobaan ini."
	case ErrCandidateAccessOnly:
		return "Hanya peserta yang dapat mengakses sumber ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidOption:
		return "Pilihan jawaban harus A, B, C, atau D."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrNoQuestions:
		return "Tes ini tidak memiliki pertanyaan."
	case ErrAttemptCreation:
		return "Gagal memulai tes. Silakan coba lagi."
	case ErrConfirmationRequired:
		return "Konfirmasi diperlukan untuk mengumpulkan tes."
	case ErrAttemptFinalized:
		return "Tes ini sudah dikumpulkan."
	case ErrSubmissionInFlight:
		return "Pengumpulan tes sedang diproses."
	case ErrSubmissionFailed:
		return "Gagal mengumpulkan tes. Silakan coba lagi."
	case ErrAttemptNotFinalized:
		return "Hasil belum tersedia karena tes belum dikumpulkan."
	case ErrPersistenceDelayed:
		return "Jawaban tersimpan di sesi, tetapi belum tersimpan ke server."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	case ErrServiceUnavailable:
		return "Layanan belum siap. Silakan coba lagi nanti."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
