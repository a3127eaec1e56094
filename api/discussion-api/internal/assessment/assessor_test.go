// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_assessment

import (
	"testing"

	internal_type "github.com/vocalab/api/discussion-api/internal/type"
)

func TestParseAssessment(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		fluency int
	}{
		{
			name:    "bare JSON object",
			input:   `{"fluencyScore": 8, "clarityScore": 7, "feedback": "Well done"}`,
			fluency: 8,
		},
		{
			name:    "JSON wrapped in prose",
			input:   "Here is your assessment:\n{\"fluencyScore\": 5, \"clarityScore\": 6}\nKeep it up!",
			fluency: 5,
		},
		{
			name:    "JSON in code fence",
			input:   "```json\n{\"fluencyScore\": 9, \"strengths\": [\"pacing\"]}\n```",
			fluency: 9,
		},
		{
			name:    "no JSON at all",
			input:   "I could not assess this recording.",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			input:   `{"fluencyScore": }`,
			wantErr: true,
		},
		{
			name:    "empty reply",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assessment, err := parseAssessment(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", assessment)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if assessment.FluencyScore != tt.fluency {
				t.Errorf("expected fluency %d, got %d", tt.fluency, assessment.FluencyScore)
			}
		})
	}
}

func TestPartialAssessmentIsAboveNeutral(t *testing.T) {
	partial := partialAssessment()
	neutral := internal_type.NeutralAssessment()
	if partial.OverallScore <= neutral.OverallScore {
		t.Errorf("partial assessment should score above neutral: %d vs %d",
			partial.OverallScore, neutral.OverallScore)
	}
	if partial.Feedback == "" {
		t.Errorf("partial assessment must carry feedback")
	}
}

func TestNeutralAssessmentShape(t *testing.T) {
	neutral := internal_type.NeutralAssessment()
	if neutral.FluencyScore != 6 || neutral.ClarityScore != 6 || neutral.OverallScore != 6 {
		t.Errorf("neutral placeholder scores changed: %+v", neutral)
	}
	if len(neutral.Suggestions) == 0 || neutral.Feedback == "" {
		t.Errorf("neutral placeholder must be displayable as-is")
	}
}
