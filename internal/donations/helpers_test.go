package donations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meauxbility_api/internal/models"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.DonationAttempt{}, &models.IdempotencyReservation{}, &models.WebhookEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(start time.Time) *clock { return &clock{now: start} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []StateChange
}

func (p *recordingPublisher) PublishStateChange(_ context.Context, change StateChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

func (p *recordingPublisher) Changes() []StateChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StateChange(nil), p.changes...)
}

// fakeGateway returns the same intent for repeated idempotency keys, like the real one
type fakeGateway struct {
	mu       sync.Mutex
	byKey    map[string]Intent
	byID     map[string]Intent
	creates  int
	failures int // transient failures to return before succeeding
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{byKey: map[string]Intent{}, byID: map[string]Intent{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, req CreateIntentRequest) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failures > 0 {
		g.failures--
		return Intent{}, &GatewayError{Op: "create_intent", Retryable: true, Err: errors.New("connection reset")}
	}
	if intent, ok := g.byKey[req.IdempotencyKey]; ok {
		return intent, nil
	}
	g.creates++
	intent := Intent{
		ID:               fmt.Sprintf("pi_%d", g.creates),
		ClientSecret:     fmt.Sprintf("pi_%d_secret", g.creates),
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         req.Currency,
		Status:           "requires_payment_method",
	}
	g.byKey[req.IdempotencyKey] = intent
	g.byID[intent.ID] = intent
	return intent, nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, id string) (Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.byID[id]
	if !ok {
		return Intent{}, &GatewayError{Op: "retrieve_intent", Err: errors.New("no such intent")}
	}
	return intent, nil
}

func (g *fakeGateway) Creates() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates
}

// testPayload is the fake wire format understood by fakeGateway.VerifyWebhook
type testPayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	IntentID  string `json:"intent_id"`
	AttemptID string `json:"attempt_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

const (
	goodSignature = "t=1,v1=good"
	oldSignature  = "t=0,v1=good"
)

func (g *fakeGateway) VerifyWebhook(payload []byte, header string) (Event, error) {
	switch header {
	case goodSignature:
	case oldSignature:
		return nil, &ReplayError{Err: errors.New("timestamp too old")}
	default:
		return nil, &SignatureError{Err: errors.New("no valid signature")}
	}

	var p testPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &SignatureError{Err: err}
	}
	meta := EventMeta{ID: p.ID, Type: p.Type, IntentID: p.IntentID, AttemptID: p.AttemptID, CreatedAt: testEpoch}
	switch p.Type {
	case "payment_intent.succeeded":
		return PaymentSucceeded{EventMeta: meta}, nil
	case "payment_intent.payment_failed":
		return PaymentFailed{EventMeta: meta, Reason: p.Reason}, nil
	case "payment_intent.canceled":
		return PaymentCanceled{EventMeta: meta, Reason: p.Reason}, nil
	}
	return IgnoredEvent{EventMeta: meta}, nil
}

func payload(t *testing.T, p testPayload) []byte {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (m *fakeMailer) Send(_ context.Context, email Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *fakeMailer) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// SentTo counts messages addressed to addr
func (m *fakeMailer) SentTo(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.sent {
		for _, to := range e.To {
			if to == addr {
				n++
			}
		}
	}
	return n
}

// syncNotifier runs the dispatcher inline so tests can assert right away
type syncNotifier struct {
	d *Dispatcher
}

func (n syncNotifier) Dispatch(attempt models.DonationAttempt) {
	n.d.NotifyDonor(context.Background(), &attempt)
}

// seedAttempt inserts an attempt in the given state
func seedAttempt(t *testing.T, l *GormLedger, id string, state models.DonationState, intentID string, createdAt time.Time) *models.DonationAttempt {
	t.Helper()
	a := &models.DonationAttempt{
		ID:               id,
		IdempotencyKey:   "key-" + id,
		AmountMinorUnits: 2500,
		Currency:         "usd",
		DonorEmail:       "donor@example.org",
		State:            state,
		CreatedAt:        createdAt,
	}
	if intentID != "" {
		a.GatewayIntentID = &intentID
	}
	if err := l.Create(context.Background(), a); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
	return a
}

func nopLogger() *zap.Logger { return zap.NewNop() }
