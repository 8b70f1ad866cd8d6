package tools

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a configurable test tool.
type fakeTool struct {
	ParallelTool
	name     string
	schema   map[string]any
	executeF func(ctx context.Context, args map[string]any) (*ToolOutput, error)
}

func (f *fakeTool) Name() string                     { return f.name }
func (f *fakeTool) Description() string              { return "fake" }
func (f *fakeTool) ParametersSchema() map[string]any { return f.schema }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (*ToolOutput, error) {
	return f.executeF(ctx, args)
}

func objSchema(required ...string) map[string]any {
	req := make([]any, 0, len(required))
	for _, r := range required {
		req = append(req, r)
	}
	return map[string]any{"type": "object", "properties": map[string]any{}, "required": req}
}

func TestRegistryValidatesRequired(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterTool(&fakeTool{
		name:   "needs_q",
		schema: objSchema("q"),
		executeF: func(context.Context, map[string]any) (*ToolOutput, error) {
			return Success("ok"), nil
		},
	}))

	output, err := registry.Execute(context.Background(), "needs_q", map[string]any{})
	require.NoError(t, err)
	assert.False(t, output.Success)
	assert.Equal(t, CategoryConfig, output.Category)
	assert.Contains(t, output.Error, "q")

	output, err = registry.Execute(context.Background(), "needs_q", map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.True(t, output.Success)
}

func TestRegistryRecoversPanics(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterTool(&fakeTool{
		name:   "bomb",
		schema: objSchema(),
		executeF: func(context.Context, map[string]any) (*ToolOutput, error) {
			panic("kaboom")
		},
	}))

	_, err := registry.Execute(context.Background(), "bomb", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRegistryUnknownTool(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Execute(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestTimeoutWrapperMessage(t *testing.T) {
	registry := NewRegistry().Use(NewTimeoutWrapper(50 * time.Millisecond))
	require.NoError(t, registry.RegisterTool(&fakeTool{
		name:   "sleepy",
		schema: objSchema(),
		executeF: func(ctx context.Context, _ map[string]any) (*ToolOutput, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return Success("never"), nil
		},
	}))

	start := time.Now()
	_, err := registry.Execute(context.Background(), "sleepy", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Tool 'sleepy' timed out after 50ms")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRateLimitWrapperBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	registry := NewRegistry().Use(NewRateLimitWrapper(2))
	require.NoError(t, registry.RegisterTool(&fakeTool{
		name:   "counted",
		schema: objSchema(),
		executeF: func(context.Context, map[string]any) (*ToolOutput, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			current.Add(-1)
			return Success("ok"), nil
		},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Execute(context.Background(), "counted", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestToolOutputRender(t *testing.T) {
	assert.Equal(t, "plain", Success("plain").Render())
	assert.Equal(t, `{"a":1}`, Success(map[string]any{"a": 1}).Render())
	assert.Equal(t, "Error: nope", Errorf(CategoryOther, "nope").Render())
}

func TestErrorfRetryability(t *testing.T) {
	assert.True(t, Errorf(CategoryNetwork, "x").Retryable)
	assert.True(t, Errorf(CategoryServer, "x").Retryable)
	assert.False(t, Errorf(CategoryConfig, "x").Retryable)
	assert.False(t, Errorf(CategoryAuth, "x").Retryable)
}

func TestSchemaForReflectsStruct(t *testing.T) {
	type params struct {
		URL    string `json:"url" jsonschema:"description=Target URL"`
		Limit  int    `json:"limit,omitempty"`
		Nested struct {
			Flag bool `json:"flag,omitempty"`
		} `json:"nested,omitempty"`
	}
	schema := SchemaFor(&params{})

	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "url")
	assert.Contains(t, props, "limit")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "url")
	assert.NotContains(t, required, "limit")
}
