package model

import (
	"errors"
	"math"
	"testing"
)

func TestNewOLQScore(t *testing.T) {
	tests := []struct {
		name       string
		score      int
		confidence int
		wantErr    error
	}{
		{"lowest score", 1, 0, nil},
		{"highest score", 10, 100, nil},
		{"score zero", 0, 50, ErrInvalidScore},
		{"score eleven", 11, 50, ErrInvalidScore},
		{"negative confidence", 5, -1, ErrInvalidConfidence},
		{"confidence over 100", 5, 101, ErrInvalidConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewOLQScore(tt.score, tt.confidence, "r")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewOLQScore(%d, %d) error = %v, want %v", tt.score, tt.confidence, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOLQScore: %v", err)
			}
			if s.Score != tt.score || s.Confidence != tt.confidence {
				t.Errorf("got %+v", s)
			}
		})
	}
}

func TestNewOLQScoreFullDomain(t *testing.T) {
	for score := -2; score <= 13; score++ {
		for _, conf := range []int{-5, 0, 50, 100, 105} {
			s, err := NewOLQScore(score, conf, "")
			inDomain := score >= 1 && score <= 10 && conf >= 0 && conf <= 100
			if inDomain != (err == nil) {
				t.Fatalf("NewOLQScore(%d, %d) err = %v, in domain = %v", score, conf, err, inDomain)
			}
			if err == nil && (s.Score < 1 || s.Score > 10 || s.Confidence < 0 || s.Confidence > 100) {
				t.Fatalf("constructed out-of-domain score %+v", s)
			}
		}
	}
}

func TestIngestOLQScore(t *testing.T) {
	tests := []struct {
		name     string
		raw      float64
		conf     int
		wantS    int
		wantConf int
	}{
		{"in range", 4, 70, 4, 70},
		{"fraction truncated", 6.9, 70, 6, 70},
		{"below range", 0, 70, 1, 70},
		{"negative", -3.5, 70, 1, 70},
		{"above range", 14, 70, 10, 70},
		{"huge", 1e12, 70, 10, 70},
		{"nan", math.NaN(), 70, 10, 70},
		{"confidence clamped high", 5, 250, 5, 100},
		{"confidence clamped low", 5, -20, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := IngestOLQScore(tt.raw, tt.conf, "why")
			if s.Score != tt.wantS || s.Confidence != tt.wantConf {
				t.Errorf("IngestOLQScore(%v, %d) = %d/%d, want %d/%d", tt.raw, tt.conf, s.Score, s.Confidence, tt.wantS, tt.wantConf)
			}
			if err := s.Validate(); err != nil {
				t.Errorf("ingested score does not validate: %v", err)
			}
		})
	}
}

func TestRatingFor(t *testing.T) {
	want := map[int]string{
		1: "Exceptional", 2: "Exceptional", 3: "Exceptional",
		4: "Excellent", 5: "Very Good", 6: "Good", 7: "Average",
		8: "Below Average", 9: "Poor", 10: "Poor",
		0: "Unknown", 11: "Unknown",
	}
	for score, label := range want {
		if got := RatingFor(score); got != label {
			t.Errorf("RatingFor(%d) = %q, want %q", score, got, label)
		}
	}
	if got := MustOLQScore(7, 10, "").Rating(); got != "Average" {
		t.Errorf("Rating() = %q, want Average", got)
	}
}

func TestIsLimitation(t *testing.T) {
	if MustOLQScore(7, 50, "").IsLimitation() {
		t.Error("7 should not be a limitation")
	}
	if !MustOLQScore(8, 50, "").IsLimitation() {
		t.Error("8 should be a limitation")
	}
}
