package models

import "testing"

func TestDonationStateTransitions(t *testing.T) {
	tests := []struct {
		from, to DonationState
		want     bool
	}{
		{DonationStateCreated, DonationStatePendingConfirmation, true},
		{DonationStateCreated, DonationStateCanceled, true},
		{DonationStateCreated, DonationStateCompleted, false},
		{DonationStatePendingConfirmation, DonationStateCompleted, true},
		{DonationStatePendingConfirmation, DonationStateFailed, true},
		{DonationStatePendingConfirmation, DonationStateCreated, false},
		{DonationStateCompleted, DonationStateFailed, false},
		{DonationStateFailed, DonationStateCompleted, false},
		{DonationStateCanceled, DonationStatePendingConfirmation, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v; want %v", got, tt.want)
			}
		})
	}

	for _, s := range []DonationState{DonationStateCompleted, DonationStateFailed, DonationStateCanceled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if DonationStatePendingConfirmation.IsTerminal() {
		t.Error("pending_confirmation should not be terminal")
	}
}

func TestStringMetadata(t *testing.T) {
	a := DonationAttempt{Metadata: map[string]interface{}{"fund": "general", "n": 3}}
	got := a.StringMetadata()
	if len(got) != 1 || got["fund"] != "general" {
		t.Errorf("StringMetadata() = %v", got)
	}
}
