package nodes

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/models"
)

func transformNode(config string) models.Node {
	return models.Node{ID: "t", Kind: models.NodeDataTransform, Config: json.RawMessage(config)}
}

func emptyContext() *engine.ExecutionContext {
	return engine.NewExecutionContext(models.NewContextSnapshot("e"), nil)
}

func TestTransformProject(t *testing.T) {
	out, err := TransformExecutor{}.Execute(context.Background(),
		transformNode(`{"mode":"project","fields":["a","c"]}`),
		emptyContext(),
		json.RawMessage(`{"a":1,"b":2,"c":"x"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"c":"x"}`, string(out))
}

func TestTransformMath(t *testing.T) {
	cases := []struct {
		op   string
		want string
	}{
		{"multiply", `{"result":84}`},
		{"add", `{"result":44}`},
		{"subtract", `{"result":40}`},
		{"divide", `{"result":21}`},
	}
	for _, tc := range cases {
		out, err := TransformExecutor{}.Execute(context.Background(),
			transformNode(`{"mode":"math","field":"x","op":"`+tc.op+`","value":2}`),
			emptyContext(),
			json.RawMessage(`{"x":42}`))
		require.NoError(t, err, tc.op)
		assert.JSONEq(t, tc.want, string(out), tc.op)
	}
}

func TestTransformMathReadsWebhookBody(t *testing.T) {
	out, err := TransformExecutor{}.Execute(context.Background(),
		transformNode(`{"mode":"math","field":"x","op":"multiply","value":2}`),
		emptyContext(),
		json.RawMessage(`{"headers":{},"body":{"x":42}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":84}`, string(out))
}

func TestTransformMathErrors(t *testing.T) {
	_, err := TransformExecutor{}.Execute(context.Background(),
		transformNode(`{"mode":"math","field":"x","op":"divide","value":0}`),
		emptyContext(),
		json.RawMessage(`{"x":1}`))
	assert.ErrorContains(t, err, "division by zero")

	_, err = TransformExecutor{}.Execute(context.Background(),
		transformNode(`{"mode":"math","field":"missing","op":"add","value":1}`),
		emptyContext(),
		json.RawMessage(`{"x":1}`))
	assert.ErrorContains(t, err, "not present")
}

func TestTransformTemplate(t *testing.T) {
	snapshot := models.NewContextSnapshot("e")
	snapshot.NodeOutputs["prev"] = json.RawMessage(`{"name":"ada"}`)
	ec := engine.NewExecutionContext(snapshot, nil)

	out, err := TransformExecutor{}.Execute(context.Background(),
		transformNode(`{"mode":"template","template":{"greeting":"hi {{prev.output.name}}"}}`),
		ec, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"greeting":"hi ada"}`, string(out))
}

func TestTransformUnknownMode(t *testing.T) {
	_, err := TransformExecutor{}.Execute(context.Background(),
		transformNode(`{"mode":"wat"}`), emptyContext(), nil)
	assert.Error(t, err)
}

func TestPrintInterpolates(t *testing.T) {
	snapshot := models.NewContextSnapshot("e")
	snapshot.Variables["who"] = json.RawMessage(`"world"`)
	ec := engine.NewExecutionContext(snapshot, nil)

	node := models.Node{ID: "p", Kind: models.NodePrint,
		Config: json.RawMessage(`{"message":"hello {{who}}"}`)}
	out, err := PrintExecutor{}.Execute(context.Background(), node, ec, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"printed":"hello world"}`, string(out))
}

func TestRegistryPassesTriggerInputThrough(t *testing.T) {
	registry := NewRegistry()
	node := models.Node{ID: "t", Kind: models.NodeManualTrigger}
	wf := models.Workflow{ID: "w", Nodes: []models.Node{node}}
	task := models.NewWorkflowTask("e", node, wf, models.NewContextSnapshot("e"),
		json.RawMessage(`{"x":1}`))

	out, err := registry.Run(context.Background(), &task, emptyContext())
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(out))
}

func TestRegistryUnknownKind(t *testing.T) {
	registry := NewRegistry()
	node := models.Node{ID: "n", Kind: models.NodeEmail}
	wf := models.Workflow{ID: "w", Nodes: []models.Node{node}}
	task := models.NewWorkflowTask("e", node, wf, models.NewContextSnapshot("e"), nil)

	_, err := registry.Run(context.Background(), &task, emptyContext())
	assert.ErrorContains(t, err, "no executor registered")
}

func TestParseRecipients(t *testing.T) {
	recipients, err := parseRecipients("a@example.com, b@example.com; c@example.com")
	require.NoError(t, err)
	assert.Len(t, recipients, 3)

	_, err = parseRecipients("not-an-address")
	assert.ErrorContains(t, err, "malformed recipient")

	_, err = parseRecipients("")
	assert.ErrorContains(t, err, "at least one recipient")
}

func TestPythonScriptNameValidation(t *testing.T) {
	m := NewPythonManager(t.TempDir())
	// Force initialization to be considered done so validation runs first.
	m.initOnce.Do(func() {})

	for _, name := range []string{"", "sub/dir", `back\slash`, "has.dot"} {
		_, err := m.ExecuteScript(context.Background(), name, nil)
		assert.Error(t, err, name)
	}
}
