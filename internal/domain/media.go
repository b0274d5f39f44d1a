package domain

import "errors"

// MediaErrorCode is the UI-facing warning surfaced when the microphone is unavailable.
type MediaErrorCode string

const (
	MediaNotAllowed   MediaErrorCode = "NotAllowedError"
	MediaNotFound     MediaErrorCode = "NotFoundError"
	MediaNotSupported MediaErrorCode = "NotSupportedError"
	MediaUnknown      MediaErrorCode = "UnknownError"
)

type MediaError struct {
	Code MediaErrorCode
	Err  error
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *MediaError) Unwrap() error { return e.Err }

// MediaErrorCodeOf maps any acquisition error to a warning code.
func MediaErrorCodeOf(err error) MediaErrorCode {
	if err == nil {
		return ""
	}
	var me *MediaError
	if errors.As(err, &me) {
		return me.Code
	}
	return MediaUnknown
}
