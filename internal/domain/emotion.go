// Package domain contains core domain types for the incentive engine.
package domain

import (
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// EmotionType identifies an emotion reported by the detection pipeline.
// Values mirror the upstream detector enumeration and are stable.
type EmotionType uint8

const (
	EmotionHappy EmotionType = iota
	EmotionSad
	EmotionAngry
	EmotionSurprised
	EmotionFearful
	EmotionDisgusted
	EmotionNeutral

	// EmotionTypeCount is the number of distinct emotion types.
	EmotionTypeCount = 7
)

var emotionNames = [EmotionTypeCount]string{
	"HAPPY", "SAD", "ANGRY", "SURPRISED", "FEARFUL", "DISGUSTED", "NEUTRAL",
}

// String returns the canonical upper-case name of the emotion type.
func (e EmotionType) String() string {
	if int(e) < len(emotionNames) {
		return emotionNames[e]
	}
	return fmt.Sprintf("EMOTION(%d)", uint8(e))
}

// Valid reports whether the value is a known emotion type.
func (e EmotionType) Valid() bool {
	return int(e) < EmotionTypeCount
}

// ParseEmotionType converts a name like "HAPPY" (case-insensitive) to its type.
func ParseEmotionType(s string) (EmotionType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range emotionNames {
		if n == name {
			return EmotionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown emotion type %q: %w", s, errdefs.ErrInvalidArgument)
}
