package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseStatus is the lifecycle state of a purchase request.
type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "Pending"
	PurchaseApproved PurchaseStatus = "Approved"
	PurchaseRejected PurchaseStatus = "Rejected"
	PurchasePaid     PurchaseStatus = "Paid"
)

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchasePending:  {PurchaseApproved, PurchaseRejected},
	PurchaseApproved: {PurchasePaid},
}

// ParsePurchaseStatus validates a status value supplied by a caller.
func ParsePurchaseStatus(raw string) (PurchaseStatus, error) {
	switch s := PurchaseStatus(raw); s {
	case PurchasePending, PurchaseApproved, PurchaseRejected, PurchasePaid:
		return s, nil
	default:
		return "", Invalidf("invalid status value %q", raw)
	}
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to PurchaseStatus) bool {
	for _, next := range purchaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when from -> to is not allowed.
func CheckTransition(from, to PurchaseStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s PurchaseStatus) IsTerminal() bool {
	return len(purchaseTransitions[s]) == 0
}

// RequestTypes are the purchase categories a driver can request.
var RequestTypes = []string{
	"Vehicle Repair",
	"Tyre Purchase",
	"Battery Purchase",
	"Bus Engine Purchase",
	"Oil Change",
	"Brake Pads Replacement",
	"Windscreen/Wiper Replacement",
	"Gearbox Repair",
	"Radiator Repair or Replacement",
	"Light Bulbs / Electrical Fix",
	"Fuel Filter Change",
	"Suspension System Repair",
	"Other Essential Items",
}

// ValidRequestType reports whether t is one of RequestTypes.
func ValidRequestType(t string) bool {
	for _, known := range RequestTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Gateway-side transfer states tracked on purchase requests and withdrawals.
const (
	TransferPending  = "pending"
	TransferSuccess  = "success"
	TransferFailed   = "failed"
	TransferReversed = "reversed"
	TransferUnknown  = "unknown"
	TransferOTP      = "otp"
	// TransferReconcile marks a withdrawal that was refunded and then
	// reported paid by the gateway. An operator settles it by hand.
	TransferReconcile = "reconcile"
)

// TransferAccepted reports whether a gateway transfer status means the transfer
// was taken on by the provider.
func TransferAccepted(status string) bool {
	switch strings.ToLower(status) {
	case "success", "pending", "otp", "received":
		return true
	default:
		return false
	}
}

// PurchaseRequest is a driver-submitted vendor payment awaiting approval.
type PurchaseRequest struct {
	ID                  uuid.UUID       `json:"id"`
	DriverID            string          `json:"driverId"`
	PhoneNumber         string          `json:"phoneNumber"`
	AcctNo              string          `json:"acctNo"`
	RequestType         string          `json:"requestType"`
	VendorName          string          `json:"vendorName"`
	VendorContacts      string          `json:"vendorContacts"`
	VendorAccountNumber string          `json:"vendorAccountNumber"`
	VendorBankName      string          `json:"vendorBankName"`
	BusinessName        string          `json:"businessName"`
	BusinessAddress     string          `json:"businessAddress"`
	PurchaseItem        string          `json:"purchaseItem"`
	Amount              decimal.Decimal `json:"amount"`
	Comment             string          `json:"comment"`
	VehicleNumber       string          `json:"vehicleNumber"`
	Status              PurchaseStatus  `json:"status"`
	Reference           string          `json:"reference,omitempty"`
	RecipientCode       string          `json:"recipientCode,omitempty"`
	TransferCode        string          `json:"transferCode,omitempty"`
	TransferStatus      string          `json:"transferStatus,omitempty"`
	FailureReason       string          `json:"failureReason,omitempty"`
	DateRequested       time.Time       `json:"dateRequested"`
	PaidAt              *time.Time      `json:"paidAt,omitempty"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// CanRetryPayout reports whether a manual payout retry is allowed.
func (p *PurchaseRequest) CanRetryPayout() bool {
	return p.Status == PurchaseApproved && p.TransferStatus == TransferFailed
}

// NewPurchaseRequest is the input for creating a purchase request.
type NewPurchaseRequest struct {
	DriverID            string          `json:"driverId" validate:"required"`
	PhoneNumber         string          `json:"phoneNumber" validate:"required"`
	RequestType         string          `json:"requestType" validate:"required"`
	VendorName          string          `json:"vendorName" validate:"required"`
	VendorContacts      string          `json:"vendorContacts" validate:"required"`
	VendorAccountNumber string          `json:"vendorAccountNumber" validate:"required,numeric,len=10"`
	VendorBankName      string          `json:"vendorBankName" validate:"required"`
	BusinessName        string          `json:"businessName" validate:"required"`
	BusinessAddress     string          `json:"businessAddress" validate:"required"`
	PurchaseItem        string          `json:"purchaseItem" validate:"required"`
	Amount              decimal.Decimal `json:"amount"`
	Comment             string          `json:"comment" validate:"required"`
	VehicleNumber       string          `json:"vehicleNumber" validate:"required"`
}

// Build validates the business rules the struct tags cannot express and
// returns the Pending request.
func (n NewPurchaseRequest) Build(now time.Time) (*PurchaseRequest, error) {
	if err := ValidateAmount(n.Amount); err != nil {
		return nil, err
	}
	if !ValidRequestType(n.RequestType) {
		return nil, Invalidf("unknown request type %q", n.RequestType)
	}
	acctNo, err := AcctNoFromPhone(n.PhoneNumber)
	if err != nil {
		return nil, err
	}
	return &PurchaseRequest{
		ID:                  uuid.New(),
		DriverID:            n.DriverID,
		PhoneNumber:         n.PhoneNumber,
		AcctNo:              acctNo,
		RequestType:         n.RequestType,
		VendorName:          n.VendorName,
		VendorContacts:      n.VendorContacts,
		VendorAccountNumber: n.VendorAccountNumber,
		VendorBankName:      n.VendorBankName,
		BusinessName:        n.BusinessName,
		BusinessAddress:     n.BusinessAddress,
		PurchaseItem:        n.PurchaseItem,
		Amount:              n.Amount,
		Comment:             n.Comment,
		VehicleNumber:       n.VehicleNumber,
		Status:              PurchasePending,
		DateRequested:       now,
		UpdatedAt:           now,
	}, nil
}

// AcctNoFromPhone derives the wallet account number from a Nigerian phone
// number: 2348012345678, 08012345678 and 8012345678 all map to 8012345678.
func AcctNoFromPhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 13 && strings.HasPrefix(digits, "234"):
		digits = digits[3:]
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}
	if !ValidAcctNo(digits) {
		return "", Invalidf("phone number %q does not map to a 10-digit account number", phone)
	}
	return digits, nil
}

// NewPurchaseReference generates the transfer reference for a purchase payout.
func NewPurchaseReference() string {
	return "pr_" + uuid.NewString()
}

// IsPurchaseReference reports whether a transfer reference belongs to a purchase payout.
func IsPurchaseReference(ref string) bool {
	return strings.HasPrefix(ref, "pr_")
}
