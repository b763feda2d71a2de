package handlers

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meauxbility_api/internal/donations"
	"meauxbility_api/internal/models"
	"meauxbility_api/web/templates/emails"
)

const (
	maxNameLen    = 100
	maxSubjectLen = 200
	maxMessageLen = 5000
	mailTimeout   = 15 * time.Second
)

// ContactRequest is the body of POST /api/forms/contact
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// SubscribeRequest is the body of POST /api/subscribe
type SubscribeRequest struct {
	Email string `json:"email"`
}

type FormHandler struct {
	db         *gorm.DB
	mailer     donations.Mailer
	staffEmail string
	orgName    string
	logger     *zap.Logger
}

func NewFormHandler(db *gorm.DB, mailer donations.Mailer, staffEmail, orgName string, logger *zap.Logger) *FormHandler {
	return &FormHandler{db: db, mailer: mailer, staffEmail: staffEmail, orgName: orgName, logger: logger}
}

func (r *ContactRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
	r.Subject = strings.TrimSpace(r.Subject)
	r.Message = strings.TrimSpace(r.Message)
}

func (r ContactRequest) validate() error {
	var fields []donations.FieldError
	check := func(field, value string, max int) {
		switch {
		case value == "":
			fields = append(fields, donations.FieldError{Field: field, Message: "is required"})
		case len(value) > max:
			fields = append(fields, donations.FieldError{Field: field, Message: "is too long"})
		}
	}
	check("name", r.Name, maxNameLen)
	check("subject", r.Subject, maxSubjectLen)
	check("message", r.Message, maxMessageLen)
	if !validEmail(r.Email) {
		fields = append(fields, donations.FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if len(fields) > 0 {
		return &donations.ValidationError{Fields: fields}
	}
	return nil
}

func validEmail(addr string) bool {
	if addr == "" || len(addr) > 254 {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

// SubmitContact handles POST /api/forms/contact
func (h *FormHandler) SubmitContact(c echo.Context) error {
	var req ContactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	req.normalize()
	if err := req.validate(); err != nil {
		return err
	}

	submission := models.ContactSubmission{
		ID:      uuid.NewString(),
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Subject: req.Subject,
		Message: req.Message,
	}
	if err := h.db.WithContext(c.Request().Context()).Create(&submission).Error; err != nil {
		return err
	}

	// The submission is stored; mail problems are only logged.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), mailTimeout)
	defer cancel()
	h.sendContactMail(ctx, submission)

	return c.JSON(http.StatusCreated, MessageResponse{Message: "Thanks, your message has been received."})
}

func (h *FormHandler) sendContactMail(ctx context.Context, s models.ContactSubmission) {
	contact := emails.ContactProps{
		OrganizationName: h.orgName,
		Name:             s.Name,
		Email:            s.Email,
		Phone:            s.Phone,
		Subject:          s.Subject,
		Message:          s.Message,
	}

	if h.staffEmail != "" {
		h.send(ctx, s.ID, "contact_notice", emails.ContactNotice(contact), donations.Email{
			To:      []string{h.staffEmail},
			Subject: "Contact form: " + s.Subject,
			Text:    s.Name + " <" + s.Email + ">\n\n" + s.Message,
			ReplyTo: s.Email,
		})
	}
	h.send(ctx, s.ID, "contact_confirmation", emails.ContactConfirmation(contact), donations.Email{
		To:      []string{s.Email},
		Subject: "We received your message",
		Text:    "Hi " + s.Name + ", thanks for reaching out. Someone from our team will reply within two business days.",
	})
}

func (h *FormHandler) send(ctx context.Context, submissionID, kind string, body templ.Component, email donations.Email) {
	html, err := emails.Render(ctx, body)
	if err == nil {
		email.HTML = html
		err = h.mailer.Send(ctx, email)
	}
	if err != nil {
		h.logger.Error("failed to send form email",
			zap.String("kind", kind),
			zap.String("submission_id", submissionID),
			zap.Error(err),
		)
	}
}

// Subscribe handles POST /api/subscribe
func (h *FormHandler) Subscribe(c echo.Context) error {
	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(email) {
		return &donations.ValidationError{Fields: []donations.FieldError{
			{Field: "email", Message: "must be a valid email address"},
		}}
	}

	sub := models.NewsletterSubscriber{Email: email, Subscribed: true}
	res := h.db.WithContext(c.Request().Context()).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&sub)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return echo.NewHTTPError(http.StatusConflict, "Email is already subscribed")
	}
	return c.JSON(http.StatusCreated, MessageResponse{Message: "Subscribed"})
}
