package domain

import (
	"math/big"
	"testing"
	"time"
)

func TestParseEmotionType(t *testing.T) {
	tests := []struct {
		in   string
		want EmotionType
	}{
		{"HAPPY", EmotionHappy},
		{"happy", EmotionHappy},
		{" Neutral ", EmotionNeutral},
		{"DISGUSTED", EmotionDisgusted},
	}
	for _, tt := range tests {
		got, err := ParseEmotionType(tt.in)
		if err != nil {
			t.Errorf("ParseEmotionType(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEmotionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseEmotionType("bored"); err == nil {
		t.Error("ParseEmotionType accepted an unknown emotion")
	}
	if EmotionType(7).Valid() {
		t.Error("EmotionType(7) reported valid")
	}
}

func TestParseRewardTier(t *testing.T) {
	got, err := ParseRewardTier("gold")
	if err != nil || got != TierGold {
		t.Errorf("ParseRewardTier(gold) = %v, %v", got, err)
	}
	if _, err := ParseRewardTier("diamond"); err == nil {
		t.Error("ParseRewardTier accepted an unknown tier")
	}
}

func TestSessionStateDerivation(t *testing.T) {
	s := &Session{
		User:      "user1",
		ID:        1,
		StartTime: time.Now(),
		Emotions:  make(map[EmotionType]EmotionStat),
	}
	if s.State() != SessionOpen {
		t.Errorf("fresh session state = %s, want OPEN", s.State())
	}

	s.EndTime = s.StartTime.Add(time.Minute)
	s.Amount = big.NewInt(5)
	if s.State() != SessionEnded {
		t.Errorf("ended session state = %s, want ENDED", s.State())
	}

	s.Claimed = true
	if s.State() != SessionClaimed {
		t.Errorf("claimed session state = %s, want CLAIMED", s.State())
	}
}

func TestSessionDurationSeconds(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{StartTime: start}

	if got := s.DurationSeconds(start.Add(90 * time.Second)); got != 90 {
		t.Errorf("open duration = %d, want 90", got)
	}

	s.EndTime = start.Add(30 * time.Second)
	// Frozen end time wins over now.
	if got := s.DurationSeconds(start.Add(time.Hour)); got != 30 {
		t.Errorf("ended duration = %d, want 30", got)
	}

	// Clock skew never yields a negative duration.
	s2 := &Session{StartTime: start}
	if got := s2.DurationSeconds(start.Add(-time.Second)); got != 0 {
		t.Errorf("skewed duration = %d, want 0", got)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &Session{
		User:     "user1",
		Emotions: map[EmotionType]EmotionStat{EmotionHappy: {Count: 1, TotalDurationMs: 500}},
		Amount:   big.NewInt(10),
	}
	c := s.Clone()

	c.Emotions[EmotionSad] = EmotionStat{Count: 1}
	c.Amount.SetInt64(99)

	if _, ok := s.Emotions[EmotionSad]; ok {
		t.Error("clone shares the emotions map")
	}
	if s.Amount.Int64() != 10 {
		t.Error("clone shares the amount")
	}
}

func TestProposalTotal(t *testing.T) {
	p := &Proposal{
		Amounts: []*big.Int{big.NewInt(30), big.NewInt(20), big.NewInt(0)},
	}
	if p.Total().Int64() != 50 {
		t.Errorf("Total = %s, want 50", p.Total())
	}
}

func TestProposalCloneIsDeep(t *testing.T) {
	p := &Proposal{
		Targets: []string{"alice"},
		Amounts: []*big.Int{big.NewInt(10)},
		Signers: map[string]bool{"owner1": true},
	}
	c := p.Clone()

	c.Amounts[0].SetInt64(99)
	c.Signers["owner2"] = true
	c.Targets[0] = "mallory"

	if p.Amounts[0].Int64() != 10 || p.Signers["owner2"] || p.Targets[0] != "alice" {
		t.Error("clone shares state with the original")
	}
}

func TestActiveEmotionTypes(t *testing.T) {
	s := &Session{Emotions: map[EmotionType]EmotionStat{
		EmotionHappy:     {Count: 2},
		EmotionSurprised: {Count: 1},
		EmotionSad:       {}, // present but never observed
	}}
	if got := s.ActiveEmotionTypes(); got != 2 {
		t.Errorf("ActiveEmotionTypes = %d, want 2", got)
	}
}
