package models

import (
	"time"

	"kyc-service/internal/kyc"
)

// User is the slice of the account record this service owns: the coarse
// user-facing verification flag derived from the latest session.
type User struct {
	UserID          string       `db:"user_id"`
	Email           string       `db:"email"`
	KYCVerification kyc.UserFlag `db:"kyc_verification"`
	UpdatedAt       time.Time    `db:"updated_at"`
}
