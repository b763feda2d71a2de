package emails

// ContactProps is one contact form submission
type ContactProps struct {
	OrganizationName string
	Name             string
	Email            string
	Phone            string
	Subject          string
	Message          string
}
