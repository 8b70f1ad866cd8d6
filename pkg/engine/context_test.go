package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/restflow-ai/restflow/pkg/models"
	"github.com/restflow-ai/restflow/pkg/secrets"
)

func testContext() *ExecutionContext {
	snapshot := models.NewContextSnapshot("exec-1")
	snapshot.NodeOutputs["fetch"] = json.RawMessage(`{"status":200,"body":{"name":"ada","count":3}}`)
	snapshot.Variables["k"] = json.RawMessage(`"v"`)
	snapshot.Variables["payload"] = json.RawMessage(`{"x":42}`)
	return NewExecutionContext(snapshot, secrets.StaticResolver{"SMTP_PASS": "hunter2"})
}

func TestInterpolateVariable(t *testing.T) {
	ec := testContext()
	assert.Equal(t, "v", ec.Interpolate("{{k}}"))
	assert.Equal(t, "42", ec.Interpolate("{{payload.x}}"))
}

func TestInterpolatePlainStringUnchanged(t *testing.T) {
	ec := testContext()
	assert.Equal(t, "no placeholders here", ec.Interpolate("no placeholders here"))
	assert.Equal(t, "", ec.Interpolate(""))
}

func TestInterpolateNodeOutput(t *testing.T) {
	ec := testContext()
	assert.Equal(t, "ada", ec.Interpolate("{{fetch.output.body.name}}"))
	// The "output" segment is optional sugar.
	assert.Equal(t, "ada", ec.Interpolate("{{fetch.body.name}}"))
	assert.Equal(t, "3", ec.Interpolate("{{fetch.output.body.count}}"))
	// Non-string leaves render as compact JSON.
	assert.Equal(t, `{"count":3,"name":"ada"}`, ec.Interpolate("{{fetch.output.body}}"))
}

func TestInterpolateMissingPathIsEmpty(t *testing.T) {
	ec := testContext()
	assert.Equal(t, "", ec.Interpolate("{{nope}}"))
	assert.Equal(t, "", ec.Interpolate("{{fetch.output.body.missing}}"))
	assert.Equal(t, "pre--post", ec.Interpolate("pre-{{nope}}-post"))
}

func TestInterpolateSecrets(t *testing.T) {
	ec := testContext()
	assert.Equal(t, "hunter2", ec.Interpolate("{{secrets.SMTP_PASS}}"))
	assert.Equal(t, "", ec.Interpolate("{{secrets.MISSING}}"))
}

func TestInterpolateMultipleSegments(t *testing.T) {
	ec := testContext()
	assert.Equal(t, "v and ada", ec.Interpolate("{{k}} and {{fetch.body.name}}"))
}

func TestInterpolateIsPure(t *testing.T) {
	ec := testContext()
	before := ec.Interpolate("{{payload.x}}")
	after := ec.Interpolate("{{payload.x}}")
	assert.Equal(t, before, after)
}
