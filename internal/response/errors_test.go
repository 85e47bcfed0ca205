package response

import "testing"

func TestGetMessageCoversAllCodes(t *testing.T) {
	codes := []ErrCode{
		ErrTokenRequired, ErrTokenInvalid, ErrTokenExpired,
		ErrForbidden, ErrStudentAccessOnly, ErrProctorAccessOnly,
		ErrValidation, ErrInvalidID, ErrInvalidPayload,
		ErrNotFound,
		ErrAssessmentNotAvailable, ErrAttemptNotFound, ErrAttemptSubmitted,
		ErrQuestionNotInScope, ErrNotProctored, ErrSubmitFailed,
		ErrRateLimitExceeded,
		ErrInternal,
	}

	fallback := GetMessage("SOME_UNKNOWN_CODE")
	for _, code := range codes {
		msg := GetMessage(code)
		if msg == "" {
			t.Errorf("GetMessage(%s) returned empty message", code)
		}
		if msg == fallback {
			t.Errorf("GetMessage(%s) fell through to the default message", code)
		}
	}
}
