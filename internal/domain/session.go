package domain

import (
	"math/big"
	"time"
)

// SessionState is the lifecycle phase of a reward session.
type SessionState uint8

const (
	SessionOpen SessionState = iota
	SessionEnded
	SessionClaimed
)

// String returns the lifecycle phase name.
func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "OPEN"
	case SessionEnded:
		return "ENDED"
	case SessionClaimed:
		return "CLAIMED"
	}
	return "UNKNOWN"
}

// EmotionStat aggregates observations of one emotion type within a session.
type EmotionStat struct {
	Count           uint64 `json:"count"`
	TotalDurationMs uint64 `json:"total_duration_ms"`
}

// Session is one behavioral recording session for a user. IDs are per-user
// and monotonically increasing. Tier and Amount are frozen when the session
// ends and never change afterwards, even if the tier config does.
type Session struct {
	User            string
	ID              uint64
	StartTime       time.Time
	EndTime         time.Time // zero while open
	EngagementScore uint64
	Emotions        map[EmotionType]EmotionStat
	Tier            RewardTier
	Amount          *big.Int // frozen reward, nil while open
	Claimed         bool
}

// State derives the lifecycle phase from the session fields.
func (s *Session) State() SessionState {
	switch {
	case s.Claimed:
		return SessionClaimed
	case !s.EndTime.IsZero():
		return SessionEnded
	default:
		return SessionOpen
	}
}

// ActiveEmotionTypes counts distinct emotion types observed so far.
func (s *Session) ActiveEmotionTypes() int {
	n := 0
	for _, stat := range s.Emotions {
		if stat.Count > 0 {
			n++
		}
	}
	return n
}

// DurationSeconds is the recorded session length. For open sessions it is
// measured against now; for ended sessions against the frozen end time.
func (s *Session) DurationSeconds(now time.Time) uint64 {
	end := s.EndTime
	if end.IsZero() {
		end = now
	}
	d := end.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

// Clone returns a deep copy safe to hand out to readers.
func (s *Session) Clone() *Session {
	out := *s
	out.Emotions = make(map[EmotionType]EmotionStat, len(s.Emotions))
	for k, v := range s.Emotions {
		out.Emotions[k] = v
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	return &out
}
