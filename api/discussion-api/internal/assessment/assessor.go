// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	internal_type "github.com/vocalab/api/discussion-api/internal/type"
	"github.com/vocalab/pkg/commons"
)

const DefaultAssessmentModel = "gemini-1.5-flash"

const assessmentPrompt = `You are an AI language assessment expert. Please analyze this audio recording and provide a comprehensive assessment of the speaker's English fluency and clarity.

Please evaluate the following aspects and provide scores from 1-10:
1. Fluency (flow of speech, natural rhythm, hesitations)
2. Clarity (pronunciation, articulation, understandability)
3. Vocabulary usage
4. Grammar accuracy
5. Overall communication effectiveness

Format your response as a JSON object with the following structure:
{
  "fluencyScore": number (1-10),
  "clarityScore": number (1-10),
  "vocabularyScore": number (1-10),
  "grammarScore": number (1-10),
  "overallScore": number (1-10),
  "strengths": ["strength1", "strength2", ...],
  "areasForImprovement": ["area1", "area2", ...],
  "feedback": "Detailed feedback paragraph",
  "suggestions": ["suggestion1", "suggestion2", ...]
}

Please be constructive and encouraging in your feedback.`

const transcriptionPrompt = "Please transcribe this audio recording accurately. Provide only the transcribed text."

// geminiAssessor scores a completed turn's recording with Gemini. The model
// is an opaque oracle here: the reply is parsed for a JSON object and stored
// as-is, never validated beyond decoding.
type geminiAssessor struct {
	logger commons.Logger
	client *genai.Client
	model  string
}

// NewGeminiAssessor creates an Assessor backed by the Gemini API.
func NewGeminiAssessor(ctx context.Context, logger commons.Logger, apiKey, model string) (internal_type.Assessor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultAssessmentModel
	}
	return &geminiAssessor{
		logger: logger,
		client: client,
		model:  model,
	}, nil
}

// Assess sends the turn recording to Gemini and decodes the scored reply.
// A transport/model error is returned to the caller, who substitutes the
// neutral placeholder; a malformed reply degrades to a partial assessment
// rather than failing the turn.
func (a *geminiAssessor) Assess(ctx context.Context, handle *internal_type.AudioHandle) (*internal_type.TurnAssessment, error) {
	if handle == nil || len(handle.Data) == 0 {
		return nil, fmt.Errorf("no audio to assess")
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: assessmentPrompt},
			{InlineData: &genai.Blob{MIMEType: handle.MIMEType, Data: handle.Data}},
		},
	}}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("assessment request failed: %w", err)
	}

	assessment, err := parseAssessment(resp.Text())
	if err != nil {
		a.logger.Warnw("Assessment reply was not valid JSON, degrading", "error", err)
		return partialAssessment(), nil
	}

	a.logger.Infow("Turn assessed",
		"fluency", assessment.FluencyScore,
		"clarity", assessment.ClarityScore,
		"overall", assessment.OverallScore)
	return assessment, nil
}

// Transcribe returns a plain-text transcription of the recording.
func (a *geminiAssessor) Transcribe(ctx context.Context, handle *internal_type.AudioHandle) (string, error) {
	if handle == nil || len(handle.Data) == 0 {
		return "", fmt.Errorf("no audio to transcribe")
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: transcriptionPrompt},
			{InlineData: &genai.Blob{MIMEType: handle.MIMEType, Data: handle.Data}},
		},
	}}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// parseAssessment extracts the JSON object from the model reply. The model
// sometimes wraps the object in prose or a code fence, so everything outside
// the outermost braces is discarded.
func parseAssessment(text string) (*internal_type.TurnAssessment, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in assessment reply")
	}

	var assessment internal_type.TurnAssessment
	if err := json.Unmarshal([]byte(text[start:end+1]), &assessment); err != nil {
		return nil, fmt.Errorf("failed to decode assessment: %w", err)
	}
	return &assessment, nil
}

// partialAssessment is returned when the model replied but not with decodable
// scores. Slightly above neutral: the speaker did complete a turn.
func partialAssessment() *internal_type.TurnAssessment {
	return &internal_type.TurnAssessment{
		FluencyScore:        7,
		ClarityScore:        7,
		VocabularyScore:     7,
		GrammarScore:        7,
		OverallScore:        7,
		Strengths:           []string{"Good attempt at communication"},
		AreasForImprovement: []string{"Continue practicing"},
		Feedback:            "Assessment could not be fully processed, but keep practicing your speaking skills!",
		Suggestions:         []string{"Practice speaking regularly", "Focus on clear pronunciation"},
	}
}
