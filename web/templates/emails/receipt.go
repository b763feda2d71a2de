package emails

import (
	"fmt"
	"strings"
)

// ReceiptProps is the donor's tax receipt for one completed donation
type ReceiptProps struct {
	OrganizationName string
	OrganizationEIN  string
	DonorName        string
	Amount           string
	ReceiptNumber    string
	Date             string
	Designation      string
}

func (p ReceiptProps) Subject() string {
	return fmt.Sprintf("Thank you for your donation to %s", p.OrganizationName)
}

func (p ReceiptProps) greeting() string {
	if p.DonorName == "" {
		return "Dear friend,"
	}
	return fmt.Sprintf("Dear %s,", p.DonorName)
}

func (p ReceiptProps) acknowledgement() string {
	return fmt.Sprintf("Your donation of %s to %s has been received.", p.Amount, p.OrganizationName)
}

func (p ReceiptProps) taxNote() string {
	return fmt.Sprintf("%s is a 501(c)(3) nonprofit organization, EIN %s. No goods or services were provided in exchange for this contribution.", p.OrganizationName, p.OrganizationEIN)
}

// DonationReceiptText is the plain text alternative of DonationReceipt
func DonationReceiptText(p ReceiptProps) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", p.greeting())
	fmt.Fprintf(&b, "%s\n\n", p.acknowledgement())
	fmt.Fprintf(&b, "Amount: %s\nDate: %s\nReceipt number: %s\n", p.Amount, p.Date, p.ReceiptNumber)
	if p.Designation != "" {
		fmt.Fprintf(&b, "Designation: %s\n", p.Designation)
	}
	fmt.Fprintf(&b, "\n%s\n", p.taxNote())
	return b.String()
}
