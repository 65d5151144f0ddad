package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Review status and result values reported by the verification vendor.
const (
	VendorReviewCompleted = "completed"
	VendorReviewRejected  = "rejected"
	VendorResultGreen     = "green"
	VendorResultRed       = "red"
)

// ApplicantStatus is the vendor's current view of an applicant.
type ApplicantStatus struct {
	ApplicantRef string
	ReviewStatus string
	ReviewResult string
	ReviewDate   *time.Time
}

// MapVendorStatus maps a vendor review to the KYC status:
// completed+green is verified, rejected or red is rejected, anything else
// stays pending.
func MapVendorStatus(reviewStatus, reviewResult string) KYCStatus {
	reviewStatus = strings.ToLower(reviewStatus)
	reviewResult = strings.ToLower(reviewResult)
	switch {
	case reviewStatus == VendorReviewCompleted && reviewResult == VendorResultGreen:
		return KYCVerified
	case reviewStatus == VendorReviewRejected || reviewResult == VendorResultRed:
		return KYCRejected
	default:
		return KYCPending
	}
}

// IsGreen reports whether the vendor cleared AML screening.
func IsGreen(reviewResult string) bool {
	return strings.EqualFold(reviewResult, VendorResultGreen)
}

// ReviewResult accepts either a bare answer string or the vendor's object
// form {"reviewAnswer": "GREEN"}, normalized to lower case.
type ReviewResult string

func (r *ReviewResult) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = ReviewResult(strings.ToLower(s))
		return nil
	}
	var obj struct {
		ReviewAnswer string `json:"reviewAnswer"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = ReviewResult(strings.ToLower(obj.ReviewAnswer))
	return nil
}

// WebhookPayload is the inbound vendor notification.
type WebhookPayload struct {
	Type         string       `json:"type"`
	ApplicantID  string       `json:"applicantId"`
	ReviewStatus string       `json:"reviewStatus"`
	ReviewResult ReviewResult `json:"reviewResult"`
}

// VerificationStatus is what callers see after a status refresh.
type VerificationStatus struct {
	UserID         string         `json:"user_id"`
	KYCStatus      KYCStatus      `json:"kyc_status"`
	AMLStatus      AMLStatus      `json:"aml_status"`
	AdminKYCStatus AdminKYCStatus `json:"admin_kyc_status"`
	ReviewStatus   string         `json:"review_status,omitempty"`
	ReviewResult   string         `json:"review_result,omitempty"`
	VerifiedAt     *time.Time     `json:"verified_at,omitempty"`
	Jurisdiction   string         `json:"jurisdiction,omitempty"`
}

// InitiateResult is returned when a verification cycle starts. When no
// vendor is configured only RequiresFormSubmission and the statuses are set.
type InitiateResult struct {
	UserID                 string    `json:"user_id"`
	ApplicantRef           string    `json:"applicant_ref,omitempty"`
	SDKToken               string    `json:"sdk_token,omitempty"`
	VerificationURL        string    `json:"verification_url,omitempty"`
	KYCStatus              KYCStatus `json:"kyc_status"`
	AMLStatus              AMLStatus `json:"aml_status"`
	RequiresFormSubmission bool      `json:"requires_form_submission,omitempty"`
}

// WebhookResult reports whether a webhook changed a known identity.
type WebhookResult struct {
	Processed bool      `json:"processed"`
	UserID    string    `json:"user_id,omitempty"`
	Role      Role      `json:"role,omitempty"`
	KYCStatus KYCStatus `json:"kyc_status,omitempty"`
	Replayed  bool      `json:"replayed,omitempty"`
}
