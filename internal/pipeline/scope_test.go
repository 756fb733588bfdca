package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestScopeStage(t *testing.T) {
	client := &mockLLMClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(textResponse(`{
		"essential_text": "The solution must be cloud hosted.",
		"removed_text": "Contact: procurement@example.gov",
		"rationale": "Removed contact details."
	}`), nil)

	result, err := ScopeStage(context.Background(), client, testAnthropicConfig(), "full rfp text")
	require.NoError(t, err)
	assert.Equal(t, "The solution must be cloud hosted.", result.EssentialText)
	assert.Equal(t, "Contact: procurement@example.gov", result.RemovedText)
}

func TestScopeStageUnparsableOutputRetainsFullText(t *testing.T) {
	client := &mockLLMClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(textResponse("I cannot produce JSON today."), nil)

	result, err := ScopeStage(context.Background(), client, testAnthropicConfig(), "full rfp text")
	require.NoError(t, err)
	assert.Equal(t, "full rfp text", result.EssentialText)
	assert.Contains(t, result.Rationale, "retained full text")
}

func TestScopeStageEmptyEssentialTextRetainsFullText(t *testing.T) {
	client := &mockLLMClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(textResponse(`{
		"essential_text": "   ",
		"removed_text": "",
		"rationale": "everything was boilerplate apparently"
	}`), nil)

	result, err := ScopeStage(context.Background(), client, testAnthropicConfig(), "full rfp text")
	require.NoError(t, err)
	assert.Equal(t, "full rfp text", result.EssentialText)
}

func TestScopeStageTransportErrorFails(t *testing.T) {
	client := &mockLLMClient{}
	client.On("Complete", mock.Anything, mock.Anything).Return(nil, eris.New("boom"))

	_, err := ScopeStage(context.Background(), client, testAnthropicConfig(), "full rfp text")
	require.Error(t, err)
}

func TestScopeStageEmptyInput(t *testing.T) {
	client := &mockLLMClient{}
	_, err := ScopeStage(context.Background(), client, testAnthropicConfig(), "")
	require.Error(t, err)
	client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}
