package emails

import "fmt"

// DonationAlertProps tells staff a donation completed
type DonationAlertProps struct {
	OrganizationName string
	DonorName        string
	DonorEmail       string
	Amount           string
	AttemptID        string
	IntentID         string
	Designation      string
}

func (p DonationAlertProps) Subject() string {
	return fmt.Sprintf("New donation: %s", p.Amount)
}

func (p DonationAlertProps) donor() string {
	if p.DonorName == "" {
		return "Anonymous"
	}
	return p.DonorName
}

// ChatText is the short form sent over WhatsApp
func (p DonationAlertProps) ChatText() string {
	return fmt.Sprintf("New donation of %s from %s (attempt %s)", p.Amount, p.donor(), p.AttemptID)
}
