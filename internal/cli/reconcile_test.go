package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/store"
)

// reconcileOutput mirrors ReconcileResult with decodable fields.
type reconcileOutput struct {
	Status string `json:"status"`
	Batch  string `json:"batch"`
	Data   struct {
		Applied []struct {
			Seq     int64  `json:"seq"`
			Batch   string `json:"batch"`
			Kind    string `json:"kind"`
			Type    string `json:"type"`
			Targets int    `json:"targets"`
			Changed []struct {
				Field  string     `json:"field"`
				Before ir.IRArray `json:"before"`
				After  ir.IRArray `json:"after"`
			} `json:"changed"`
			Unchanged int    `json:"unchanged"`
			Error     string `json:"error"`
		} `json:"applied"`
		Failed int    `json:"failed"`
		Output string `json:"output"`
	} `json:"data"`
}

// pageIDs reads the ids of the "posts" page of the only entry in a
// snapshot file.
func pageIDs(t *testing.T, path string) ir.IRArray {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	mem, err := cache.ReadSnapshot(context.Background(), f)
	require.NoError(t, err)
	entries, err := mem.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return resultIDs(t, entries[0].Data)
}

func resultIDs(t *testing.T, data ir.IRObject) ir.IRArray {
	t.Helper()
	page, ok := data.Object("posts")
	require.True(t, ok)
	results, ok := page["results"].(ir.IRArray)
	require.True(t, ok)
	ids := ir.IRArray{}
	for _, r := range results {
		ids = append(ids, r.(ir.IRObject)["_id"])
	}
	return ids
}

func TestReconcileSnapshot(t *testing.T) {
	dir := t.TempDir()
	specs := writeSpecs(t)
	cachePath := writeFile(t, dir, "cache.json", topSnapshot)
	muts := writeFile(t, dir, "muts.ndjson", `{"kind":"create","type":"Post","document":{"_id":3,"score":4}}`+"\n")
	outPath := filepath.Join(dir, "out.json")

	out, err := execute(t, NewReconcileCommand(testOptions("json")), "",
		"--specs", specs, "--cache", cachePath, "--mutations", muts, "--out", outPath, "--batch", "b1")
	require.NoError(t, err)

	var resp reconcileOutput
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "b1", resp.Batch)
	require.Len(t, resp.Data.Applied, 1)

	a := resp.Data.Applied[0]
	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, "b1", a.Batch)
	assert.Equal(t, "create", a.Kind)
	assert.Equal(t, 1, a.Targets)
	require.Len(t, a.Changed, 1)
	assert.Equal(t, "posts", a.Changed[0].Field)
	assert.Equal(t, ir.IRArray{ir.IRInt(1), ir.IRInt(2)}, a.Changed[0].Before)
	assert.Equal(t, ir.IRArray{ir.IRInt(1), ir.IRInt(3), ir.IRInt(2)}, a.Changed[0].After)

	assert.Equal(t, outPath, resp.Data.Output)
	assert.Equal(t, ir.IRArray{ir.IRInt(1), ir.IRInt(3), ir.IRInt(2)}, pageIDs(t, outPath))

	// The input snapshot is untouched
	assert.Equal(t, ir.IRArray{ir.IRInt(1), ir.IRInt(2)}, pageIDs(t, cachePath))
}

func TestReconcileStdinText(t *testing.T) {
	dir := t.TempDir()
	cachePath := writeFile(t, dir, "cache.json", topSnapshot)

	out, err := execute(t, NewReconcileCommand(testOptions("text")),
		`[{"kind":"delete","type":"Post","document":{"_id":2}}]`,
		"--specs", writeSpecs(t), "--cache", cachePath, "--mutations", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] delete Post: ok (targets=1 changed=1")
	assert.Contains(t, out, "posts: [1,2] -> [1]")
}

func TestReconcileTruncateDisabledByConfig(t *testing.T) {
	dir := t.TempDir()
	cachePath := writeFile(t, dir, "cache.json", topSnapshot)
	muts := writeFile(t, dir, "muts.ndjson",
		`{"kind":"create","type":"Post","document":{"_id":3,"score":4}}
{"kind":"create","type":"Post","document":{"_id":4,"score":9}}
`)
	outPath := filepath.Join(dir, "out.json")

	opts := testOptions("text")
	opts.Config.Reconcile.TruncateToLimit = false
	_, err := execute(t, NewReconcileCommand(opts), "",
		"--specs", writeSpecs(t), "--cache", cachePath, "--mutations", muts, "--out", outPath)
	require.NoError(t, err)
	assert.Equal(t, ir.IRArray{ir.IRInt(4), ir.IRInt(1), ir.IRInt(3), ir.IRInt(2)}, pageIDs(t, outPath))
}

func TestReconcileUnknownTypeFails(t *testing.T) {
	dir := t.TempDir()
	cachePath := writeFile(t, dir, "cache.json", topSnapshot)
	muts := writeFile(t, dir, "muts.ndjson", `{"kind":"create","type":"Widget","document":{"_id":1}}`)

	out, err := execute(t, NewReconcileCommand(testOptions("json")), "",
		"--specs", writeSpecs(t), "--cache", cachePath, "--mutations", muts)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp reconcileOutput
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Failed)
	assert.Equal(t, "UNKNOWN_TYPE", resp.Data.Applied[0].Error)
}

func TestReconcileWithDatabase(t *testing.T) {
	dir := t.TempDir()
	specs := writeSpecs(t)
	dbPath := filepath.Join(dir, "watchpatch.db")
	cachePath := writeFile(t, dir, "cache.json", topSnapshot)
	create := writeFile(t, dir, "create.ndjson", `{"kind":"create","type":"Post","document":{"_id":3,"score":4}}`)
	del := writeFile(t, dir, "delete.ndjson", `{"kind":"delete","type":"Post","document":{"_id":1}}`)

	// First run seeds the persisted cache from the snapshot
	_, err := execute(t, NewReconcileCommand(testOptions("text")), "",
		"--specs", specs, "--cache", cachePath, "--mutations", create, "--db", dbPath, "--batch", "first")
	require.NoError(t, err)

	// Second run patches the persisted cache directly and resumes the seq
	outPath := filepath.Join(dir, "out.json")
	out, err := execute(t, NewReconcileCommand(testOptions("json")), "",
		"--specs", specs, "--mutations", del, "--db", dbPath, "--batch", "second", "--out", outPath)
	require.NoError(t, err)

	var resp reconcileOutput
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Applied, 1)
	assert.Equal(t, int64(2), resp.Data.Applied[0].Seq)
	assert.Equal(t, ir.IRArray{ir.IRInt(3), ir.IRInt(2)}, pageIDs(t, outPath))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	records, err := st.ReadMutations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Batch)
	assert.Equal(t, "second", records[1].Batch)

	entries, err := st.CacheEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ir.IRArray{ir.IRInt(3), ir.IRInt(2)}, resultIDs(t, entries[0].Data))
}

func TestReconcileCommandErrors(t *testing.T) {
	dir := t.TempDir()
	specs := writeSpecs(t)
	cachePath := writeFile(t, dir, "cache.json", topSnapshot)
	good := writeFile(t, dir, "good.ndjson", `{"kind":"create","type":"Post","document":{"_id":3}}`)
	bad := writeFile(t, dir, "bad.ndjson", `{"kind":"explode","type":"Post"}`)

	tests := []struct {
		name string
		args []string
	}{
		{"malformed mutation", []string{"--specs", specs, "--cache", cachePath, "--mutations", bad}},
		{"missing mutations file", []string{"--specs", specs, "--cache", cachePath, "--mutations", filepath.Join(dir, "nope")}},
		{"no cache source", []string{"--specs", specs, "--mutations", good}},
		{"missing specs", []string{"--specs", filepath.Join(dir, "nope"), "--cache", cachePath, "--mutations", good}},
		{"bad snapshot", []string{"--specs", specs, "--cache", good, "--mutations", good}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewReconcileCommand(testOptions("text")), "", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}
