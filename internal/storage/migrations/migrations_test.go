package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SortedAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql": {Data: []byte("CREATE TABLE b ();")},
		"pg/001_a.sql": {Data: []byte("CREATE TABLE a ();")},
		"pg/003_c.sql": {Data: []byte("  \n")},
		"pg/README.md": {Data: []byte("not sql")},
		"pg/sub/x.sql": {Data: []byte("CREATE TABLE x ();")},
	}

	got, err := Load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_a.sql", got[0].Name)
	assert.Equal(t, "002_b.sql", got[1].Name)
}

func TestLoad_EmbeddedSets(t *testing.T) {
	pg, err := Load(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, "001_ledger_documents.sql", pg[0].Name)

	ch, err := Load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, m := range ch {
		assert.NotEmpty(t, Statements(m.SQL), m.Name)
	}
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "two statements",
			sql:  "CREATE TABLE a (x Int8);\nCREATE TABLE b (y Int8);\n",
			want: []string{"CREATE TABLE a (x Int8)", "CREATE TABLE b (y Int8)"},
		},
		{
			name: "comment lines dropped",
			sql:  "-- header; with semicolon\nSELECT 1;\n-- trailing\n",
			want: []string{"SELECT 1"},
		},
		{
			name: "semicolon in literal",
			sql:  "INSERT INTO t VALUES ('a;b');SELECT 'it''s;ok'",
			want: []string{"INSERT INTO t VALUES ('a;b')", "SELECT 'it''s;ok'"},
		},
		{
			name: "no terminator",
			sql:  "SELECT 2",
			want: []string{"SELECT 2"},
		},
		{
			name: "empty",
			sql:  " ;\n; ",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Statements(tt.sql))
		})
	}
}
