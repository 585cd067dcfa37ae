package sqlshape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ref struct {
	kind, table string
}

func collect(t *testing.T, query string) []ref {
	t.Helper()
	var got []ref
	err := Parse(query, func(kind, table string) {
		got = append(got, ref{kind, table})
	})
	require.NoError(t, err)
	return got
}

func TestSimpleSelect(t *testing.T) {
	got := collect(t, "SELECT * FROM employees;")
	assert.Equal(t, []ref{{"select", "employees"}}, got)
}

func TestSelectWithAliasAndWhere(t *testing.T) {
	got := collect(t, "SELECT u.name FROM users AS u, posts p WHERE u.id = p.user_id;")
	assert.Equal(t, []ref{{"select", "users"}, {"select", "posts"}}, got)
}

func TestSelectJoinOn(t *testing.T) {
	got := collect(t, "SELECT * FROM table1 JOIN table2 ON table1.id = table2.id;")
	assert.Equal(t, []ref{{"select", "table1"}, {"select", "table2"}}, got)
}

func TestSelectBacktickQuotedTable(t *testing.T) {
	got := collect(t, "SELECT * FROM `table1` JOIN table2 ON table1.id = table2.id;")
	assert.Equal(t, []ref{{"select", "table1"}, {"select", "table2"}}, got)
}

func TestSelectInnerLeftRightJoin(t *testing.T) {
	got := collect(t, "SELECT * FROM a INNER JOIN b ON a.id=b.id LEFT JOIN c ON b.id=c.id;")
	assert.Equal(t, []ref{{"select", "a"}, {"select", "b"}, {"select", "c"}}, got)
}

func TestInsertInto(t *testing.T) {
	got := collect(t, "INSERT INTO new_users (name) VALUES ('John');")
	assert.Equal(t, []ref{{"insert", "new_users"}}, got)
}

func TestUpdate(t *testing.T) {
	got := collect(t, "UPDATE products SET price = 15.00 WHERE id = 10;")
	assert.Equal(t, []ref{{"update", "products"}}, got)
}

func TestDeleteFrom(t *testing.T) {
	got := collect(t, "DELETE FROM old_logs WHERE date < '2023-01-01';")
	assert.Equal(t, []ref{{"delete", "old_logs"}}, got)
}

func TestSelectCountStar(t *testing.T) {
	got := collect(t, "SELECT count(*) FROM employees;")
	assert.Equal(t, []ref{{"select", "employees"}}, got)
}

func TestSelectSubqueryInFrom(t *testing.T) {
	got := collect(t, "SELECT * FROM (SELECT id FROM inner_tbl) AS sub JOIN table2 ON sub.id = table2.id;")
	assert.Equal(t, []ref{{"select", "inner_tbl"}, {"select", "table2"}}, got)
}

func TestUnionAll(t *testing.T) {
	got := collect(t, "SELECT a FROM t1 UNION ALL SELECT a FROM t2;")
	assert.Equal(t, []ref{{"select", "t1"}, {"select", "t2"}}, got)
}

func TestShowTables(t *testing.T) {
	got := collect(t, "SHOW TABLES;")
	assert.Equal(t, []ref{{"show", ""}}, got)
}

func TestShowColumnsFrom(t *testing.T) {
	got := collect(t, "SHOW COLUMNS FROM employees;")
	assert.Equal(t, []ref{{"show", "employees"}}, got)
}

func TestCommentsAreTolerated(t *testing.T) {
	got := collect(t, "SELECT * FROM t1 /* hash: 1234 */ -- trailing\n WHERE 1=1;")
	assert.Equal(t, []ref{{"select", "t1"}}, got)
}

func TestExistsSubqueryToleratedInWhere(t *testing.T) {
	got := collect(t, "SELECT * FROM t1 WHERE EXISTS (SELECT 1 FROM t2 WHERE t2.id = t1.id);")
	assert.Equal(t, []ref{{"select", "t1"}}, got)
}

func TestCastIsTolerated(t *testing.T) {
	got := collect(t, "SELECT CAST(x AS SIGNED INTEGER) FROM t1;")
	assert.Equal(t, []ref{{"select", "t1"}}, got)
}

func TestLimitOffset(t *testing.T) {
	got := collect(t, "SELECT * FROM t1 ORDER BY id LIMIT 5, 10;")
	assert.Equal(t, []ref{{"select", "t1"}}, got)
}

func TestSelectUseIndexThenJoin(t *testing.T) {
	got := collect(t, "SELECT * FROM t1 USE INDEX (idx) JOIN t2 ON t1.id=t2.id;")
	assert.Equal(t, []ref{{"select", "t1"}, {"select", "t2"}}, got)
}

func TestSelectForceIndexWithAlias(t *testing.T) {
	got := collect(t, "SELECT * FROM t1 AS a FORCE INDEX (idx1, idx2) WHERE a.id = 1;")
	assert.Equal(t, []ref{{"select", "t1"}}, got)
}

func TestSelectIgnoreIndexForOrderBy(t *testing.T) {
	got := collect(t, "SELECT * FROM t1 IGNORE INDEX FOR ORDER BY (idx) ORDER BY id;")
	assert.Equal(t, []ref{{"select", "t1"}}, got)
}

func TestSelectMultipleIndexHints(t *testing.T) {
	got := collect(t, "SELECT * FROM t1 USE INDEX (idx1) USE INDEX FOR JOIN (idx2) JOIN t2 ON t1.id=t2.id;")
	assert.Equal(t, []ref{{"select", "t1"}, {"select", "t2"}}, got)
}

func TestUnrecognizedStatementReturnsParseError(t *testing.T) {
	err := Parse("EXPLAIN SELECT * FROM t1", func(string, string) {})
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "EXPLAIN")
}
