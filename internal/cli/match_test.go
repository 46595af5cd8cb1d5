package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/ir"
)

// matchOutput mirrors MatchResult with decodable fields.
type matchOutput struct {
	Selector ir.IRObject `json:"selector"`
	Sort     string      `json:"sort"`
	Limit    int         `json:"limit"`
	Pushdown bool        `json:"pushdown"`
	Warnings []string    `json:"warnings"`
	SQL      string      `json:"sql"`
	Rows     []struct {
		Index   int  `json:"index"`
		Matches bool `json:"matches"`
	} `json:"rows"`
	Page ir.IRArray `json:"page"`
}

type matchResponse struct {
	Status string      `json:"status"`
	Data   matchOutput `json:"data"`
}

func decodeMatch(t *testing.T, out string) matchOutput {
	t.Helper()
	var resp matchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestMatchSelectorFlag(t *testing.T) {
	out, err := execute(t, NewMatchCommand(testOptions("json")), "",
		"--selector", `{"status":"published","score":{"$gte":3}}`,
		"--doc", `{"_id":1,"status":"published","score":5}`,
		"--doc", `{"_id":2,"status":"draft","score":9}`,
		"--doc", `{"_id":3,"status":"published","score":1}`,
	)
	require.NoError(t, err)

	res := decodeMatch(t, out)
	require.Len(t, res.Rows, 3)
	assert.True(t, res.Rows[0].Matches)
	assert.False(t, res.Rows[1].Matches)
	assert.False(t, res.Rows[2].Matches)
	assert.Equal(t, ir.IRArray{ir.IRInt(1)}, res.Page)
	assert.True(t, res.Pushdown)
	assert.Contains(t, res.SQL, "SELECT id, data FROM documents")
}

func TestMatchRegexIsNotPushdown(t *testing.T) {
	out, err := execute(t, NewMatchCommand(testOptions("json")), "",
		"--selector", `{"title":{"$regex":"^go","$options":"i"}}`,
		"--doc", `{"_id":1,"title":"Go tips"}`,
	)
	require.NoError(t, err)

	res := decodeMatch(t, out)
	assert.False(t, res.Pushdown)
	assert.NotEmpty(t, res.Warnings)
	assert.Empty(t, res.SQL)
	assert.True(t, res.Rows[0].Matches)
}

func TestMatchCollectionView(t *testing.T) {
	docs := writeFile(t, t.TempDir(), "posts.ndjson",
		`{"_id":1,"score":1}
{"_id":2,"score":9}
{"_id":3,"score":5}
{"_id":4,"score":7}
`)

	out, err := execute(t, NewMatchCommand(testOptions("json")), "",
		"--specs", writeSpecs(t),
		"--collection", "Posts",
		"--terms", `{"view":"top"}`,
		docs,
	)
	require.NoError(t, err)

	res := decodeMatch(t, out)
	assert.Equal(t, "score:desc", res.Sort)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, ir.IRArray{ir.IRInt(2), ir.IRInt(4), ir.IRInt(3)}, res.Page)
}

func TestMatchTermsPlaceholder(t *testing.T) {
	out, err := execute(t, NewMatchCommand(testOptions("json")), `[{"_id":1,"author":"ann"},{"_id":2,"author":"bob"}]`,
		"--specs", writeSpecs(t),
		"--collection", "Posts",
		"--terms", `{"view":"byAuthor","author":"bob"}`,
		"-",
	)
	require.NoError(t, err)

	res := decodeMatch(t, out)
	assert.Equal(t, ir.IRObject{"author": ir.IRString("bob")}, res.Selector)
	assert.Equal(t, ir.IRArray{ir.IRInt(2)}, res.Page)
}

func TestMatchText(t *testing.T) {
	out, err := execute(t, NewMatchCommand(testOptions("text")), "",
		"--selector", `{"tags":"go"}`,
		"--doc", `{"_id":"a","tags":["go","sql"]}`,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Pushdown: yes")
	assert.Contains(t, out, `✓ [0] id="a"`)
	assert.Contains(t, out, `Page: ["a"]`)
}

func TestMatchErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no selector", []string{"--doc", `{}`}},
		{"bad selector json", []string{"--selector", `{`}},
		{"unknown operator", []string{"--selector", `{"a":{"$near":1}}`}},
		{"bad doc", []string{"--selector", `{}`, "--doc", `[1]`}},
		{"unknown collection", []string{"--specs", "", "--collection", "Nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions("text")
			opts.Config.SpecsDir = writeSpecs(t)
			_, err := execute(t, NewMatchCommand(opts), "", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
