package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	promptName string
	input      map[string]any
	text       string
	err        error
}

func (f *fakeGenerator) GenerateText(_ context.Context, promptName string, input map[string]any) (string, error) {
	f.promptName = promptName
	f.input = input
	return f.text, f.err
}

func TestGenkitLanguageModel_PassesPromptAsInput(t *testing.T) {
	gen := &fakeGenerator{text: "```bash\nls\n```"}
	model := NewGenkitLanguageModel(gen)

	out, err := model.GetAIResponse(context.Background(), "list files")
	require.NoError(t, err)

	assert.Equal(t, "```bash\nls\n```", out)
	assert.Equal(t, DefaultPromptName, gen.promptName)
	assert.Equal(t, map[string]any{"prompt": "list files"}, gen.input)
}

func TestGenkitLanguageModel_Errors(t *testing.T) {
	boom := errors.New("quota exceeded")
	model := NewGenkitLanguageModel(&fakeGenerator{err: boom}, WithPromptName("custom"))
	_, err := model.GetAIResponse(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "custom")

	_, err = NewGenkitLanguageModel(nil).GetAIResponse(context.Background(), "x")
	assert.True(t, dragonscale.IsCode(err, dragonscale.ErrCodeConfiguration))
}

func TestStaticLanguageModel(t *testing.T) {
	boom := errors.New("offline")
	model := NewStaticLanguageModel("ERROR: unknown").
		On("disk", "```bash\ndf -h\n```").
		FailOn("network", boom)

	out, err := model.GetAIResponse(context.Background(), "how much disk is free")
	require.NoError(t, err)
	assert.Equal(t, "```bash\ndf -h\n```", out)

	_, err = model.GetAIResponse(context.Background(), "network status")
	assert.ErrorIs(t, err, boom)

	out, err = model.GetAIResponse(context.Background(), "something else")
	require.NoError(t, err)
	assert.Equal(t, "ERROR: unknown", out)

	assert.Equal(t, 3, model.Calls())
	assert.Equal(t, "network status", model.Prompts()[1])
}

func TestStaticLanguageModel_LatencyHonoursContext(t *testing.T) {
	model := NewStaticLanguageModel("late").WithLatency(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := model.GetAIResponse(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
