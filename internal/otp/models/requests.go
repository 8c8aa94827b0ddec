package models

// RequestOTPRequest is the body of POST /otp/request.
type RequestOTPRequest struct {
	Phone   string `json:"phone" validate:"required,max=32"`
	Purpose string `json:"purpose" validate:"required,oneof=registration voting password_reset"`
}

// VerifyOTPRequest is the body of POST /otp/verify.
type VerifyOTPRequest struct {
	Phone   string `json:"phone" validate:"required,max=32"`
	Purpose string `json:"purpose" validate:"required,oneof=registration voting password_reset"`
	Code    string `json:"code" validate:"required,numeric,min=4,max=10"`
}

type RequestOTPResponse struct {
	Status            RequestStatus `json:"status"`
	ExpiresAt         string        `json:"expires_at,omitempty"`
	RetryAfterSeconds int           `json:"retry_after,omitempty"`
	Delivered         bool          `json:"delivered"`
}

type VerifyOTPResponse struct {
	Status VerifyOutcome `json:"status"`
}

type StatusResponse struct {
	Status             State `json:"status"`
	HasActive          bool  `json:"has_active"`
	AttemptsRemaining  int   `json:"attempts_remaining"`
	SecondsUntilExpiry int   `json:"seconds_until_expiry"`
}
