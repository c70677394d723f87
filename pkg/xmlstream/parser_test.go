package xmlstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymind/orchestrator/pkg/catalog"
)

const testCatalogYAML = `
servers:
  microsandbox:
    aliases: ["sandbox"]
    default_action: run
    actions:
      run:
        description: "run python code"
        default_param: code
        parameters:
          properties:
            code: {type: string}
            timeout_s: {type: integer}
      status:
        description: "check sandbox status"
  deepsearch:
    actions:
      query:
        description: "web search"
        aliases: ["search"]
        parameters:
          properties:
            q: {type: string}
          required: ["q"]
`

func loadTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.LoadBytes([]byte(testCatalogYAML))
	require.NoError(t, err)
	return cat
}

func TestParse_SingleJSONPayload(t *testing.T) {
	cat := loadTestCatalog(t)
	inv, perr := Parse(`<microsandbox><run>{"code": "print(1)"}</run></microsandbox>`, cat)
	require.Nil(t, perr)
	require.Equal(t, KindSingle, inv.Kind)
	assert.Equal(t, "microsandbox", inv.Single.Server)
	assert.Equal(t, "run", inv.Single.Action)
	payload, ok := inv.Single.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "print(1)", payload["code"])
}

func TestParse_SingleRawBodyWrappedUnderDefaultParam(t *testing.T) {
	cat := loadTestCatalog(t)
	inv, perr := Parse(`<sandbox><run>print("hi")</run></sandbox>`, cat)
	require.Nil(t, perr)
	payload := inv.Single.Payload.(map[string]any)
	assert.Equal(t, `print("hi")`, payload["code"])
}

func TestParse_ServerAliasAndDefaultAction(t *testing.T) {
	cat := loadTestCatalog(t)
	inv, perr := Parse(`<sandbox><status></status></sandbox>`, cat)
	require.Nil(t, perr)
	assert.Equal(t, "microsandbox", inv.Single.Server)
	assert.Equal(t, "status", inv.Single.Action)
}

func TestParse_UnknownServer(t *testing.T) {
	cat := loadTestCatalog(t)
	_, perr := Parse(`<not_a_server><run>x</run></not_a_server>`, cat)
	require.NotNil(t, perr)
	assert.Equal(t, ParseErrorUnknownServer, perr.Kind)
}

func TestParse_UnknownAction(t *testing.T) {
	cat := loadTestCatalog(t)
	_, perr := Parse(`<microsandbox><nope>x</nope></microsandbox>`, cat)
	require.NotNil(t, perr)
	assert.Equal(t, ParseErrorUnknownAction, perr.Kind)
}

func TestParse_InvalidPayloadFailsSchema(t *testing.T) {
	cat := loadTestCatalog(t)
	_, perr := Parse(`<deepsearch><query>{}</query></deepsearch>`, cat)
	require.NotNil(t, perr)
	assert.Equal(t, ParseErrorInvalidPayload, perr.Kind)
}

func TestParse_UnknownParameterIsWarningNotFatal(t *testing.T) {
	cat := loadTestCatalog(t)
	inv, perr := Parse(`<microsandbox><run>{"code": "x", "bogus": 1}</run></microsandbox>`, cat)
	require.Nil(t, perr)
	require.Len(t, inv.Single.Warnings, 1)
	assert.Contains(t, inv.Single.Warnings[0], "bogus")
}

func TestParse_EmptyBlockIsError(t *testing.T) {
	cat := loadTestCatalog(t)
	_, perr := Parse("   ", cat)
	require.NotNil(t, perr)
	assert.Equal(t, ParseErrorEmptyBlock, perr.Kind)
}

func TestParse_ParallelBlock(t *testing.T) {
	cat := loadTestCatalog(t)
	raw := `<parallel>` +
		`<microsandbox><run>{"code": "a"}</run></microsandbox>` +
		`<deepsearch><search>{"q": "b"}</search></deepsearch>` +
		`</parallel>`
	inv, perr := Parse(raw, cat)
	require.Nil(t, perr)
	require.Equal(t, KindParallel, inv.Kind)
	require.Len(t, inv.Children, 2)
	assert.Equal(t, "microsandbox", inv.Children[0].Server)
	assert.Equal(t, "deepsearch", inv.Children[1].Server)
	assert.Equal(t, "query", inv.Children[1].Action)
}

func TestParse_ParallelRejectsNesting(t *testing.T) {
	cat := loadTestCatalog(t)
	raw := `<parallel><sequential><microsandbox><run>a</run></microsandbox></sequential></parallel>`
	_, perr := Parse(raw, cat)
	require.NotNil(t, perr)
	assert.Equal(t, ParseErrorMalformed, perr.Kind)
}

func TestParse_SequentialCapturesPlaceholders(t *testing.T) {
	cat := loadTestCatalog(t)
	raw := `<sequential>` +
		`<microsandbox><run>{"code": "a"}</run></microsandbox>` +
		`<deepsearch><search>{"q": "{results[0].stdout}"}</search></deepsearch>` +
		`</sequential>`
	inv, perr := Parse(raw, cat)
	require.Nil(t, perr)
	require.Equal(t, KindSequential, inv.Kind)
	require.Len(t, inv.Children, 2)
	assert.Empty(t, inv.Children[0].Placeholders)
	require.Len(t, inv.Children[1].Placeholders, 1)
	ph := inv.Children[1].Placeholders[0]
	assert.Equal(t, 0, ph.SiblingK)
	assert.Equal(t, "stdout", ph.Path)
	assert.Equal(t, "q", ph.ParamName)
}

func TestParse_MalformedMultipleTopLevelElements(t *testing.T) {
	cat := loadTestCatalog(t)
	_, perr := Parse(`<microsandbox><run>a</run></microsandbox><deepsearch><search>{"q":"b"}</search></deepsearch>`, cat)
	require.NotNil(t, perr)
	assert.Equal(t, ParseErrorMalformed, perr.Kind)
}
