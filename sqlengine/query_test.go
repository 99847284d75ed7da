package sqlengine

import (
	"reflect"
	"testing"

	"github.com/seb7887/gofw/stillsuit"
	"github.com/seb7887/gofw/stillsuit/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountMapping(t *testing.T, table string) *mapping {
	t.Helper()
	m, err := newMapping(reflect.TypeOf(testutils.Account{}), table)
	require.NoError(t, err)
	return m
}

func TestMapping_StatementFormat(t *testing.T) {
	tests := []struct {
		name     string
		table    string
		build    func(m *mapping) string
		expected string
	}{
		{
			name:     "insert",
			table:    "accounts",
			build:    func(m *mapping) string { return m.insertSQL(Postgres) },
			expected: `INSERT INTO "accounts" ("id", "balance") VALUES ($1, $2)`,
		},
		{
			name:     "get",
			table:    "users",
			build:    func(m *mapping) string { return m.getSQL(Postgres) },
			expected: `SELECT "id", "balance" FROM "users" WHERE "id" = $1`,
		},
		{
			name:     "update",
			table:    "profiles",
			build:    func(m *mapping) string { return m.updateSQL(Postgres, []string{"balance"}) },
			expected: `UPDATE "profiles" SET "balance" = $1 WHERE "id" = $2`,
		},
		{
			name:     "delete",
			table:    "orders",
			build:    func(m *mapping) string { return m.deleteSQL(Postgres) },
			expected: `DELETE FROM "orders" WHERE "id" = $1`,
		},
		{
			name:     "sqlite insert",
			table:    "accounts",
			build:    func(m *mapping) string { return m.insertSQL(SQLite) },
			expected: `INSERT INTO "accounts" ("id", "balance") VALUES (?, ?)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.build(accountMapping(t, tt.table)))
		})
	}
}

func TestMapping_Values(t *testing.T) {
	m := accountMapping(t, "accounts")
	item := &testutils.Account{ID: 5, Balance: 250}

	values := m.getValues(reflect.ValueOf(item))
	assert.Equal(t, []any{int64(5), 250}, values)
	assert.Equal(t, int64(5), m.key(reflect.ValueOf(item)))

	dests := m.getScanDestinations(reflect.ValueOf(item))
	require.Len(t, dests, 2)
	*(dests[1].(*int)) = 300
	assert.Equal(t, 300, item.Balance)
}

func TestMapping_TableNameValidation(t *testing.T) {
	tests := []struct {
		tableName   string
		shouldFail  bool
		description string
	}{
		{"valid_table", false, "valid table name"},
		{"ValidTable123", false, "valid table name with numbers"},
		{"users_accounts", false, "valid table name with underscore"},
		{"_internal", false, "valid table name starting with underscore"},
		{"table123_test", false, "valid table name with numbers and underscore"},
		{"table-name", true, "table name with hyphen should fail"},
		{"table name", true, "table name with space should fail"},
		{"table;DROP", true, "table name with semicolon should fail"},
		{"table'test", true, "table name with quote should fail"},
		{"table\"test", true, "table name with double quote should fail"},
		{"table(test)", true, "table name with parentheses should fail"},
		{"table*test", true, "table name with asterisk should fail"},
		{"", true, "empty table name should fail"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			_, err := newMapping(reflect.TypeOf(testutils.Account{}), tt.tableName)
			if tt.shouldFail {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMapping_ColumnsSkipRelationships(t *testing.T) {
	m, err := newMapping(reflect.TypeOf(testutils.OrderLine{}), "order_lines")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "order_id", "sku", "quantity", "price"}, m.columns)

	_, err = newMapping(reflect.TypeOf(struct{ Name string }{}), "nothing")
	assert.Error(t, err)
}

func TestQueryBuilder(t *testing.T) {
	m := accountMapping(t, "accounts")

	tests := []struct {
		name         string
		filter       *stillsuit.Filter
		expected     string
		expectedArgs []any
	}{
		{
			name:     "nil filter",
			filter:   nil,
			expected: `SELECT "id", "balance" FROM "accounts"`,
		},
		{
			name:     "empty filter",
			filter:   stillsuit.NewFilter().Build(),
			expected: `SELECT "id", "balance" FROM "accounts"`,
		},
		{
			name: "conditions sort and paging",
			filter: stillsuit.NewFilter().
				Where("balance", stillsuit.OpGreaterThan, 100).
				Or(
					stillsuit.Condition{Field: "id", Operator: stillsuit.OpEqual, Value: int64(1)},
					stillsuit.Condition{Field: "id", Operator: stillsuit.OpEqual, Value: int64(2)},
				).
				OrderBy("balance", stillsuit.SortDesc).
				Limit(10).
				Offset(5).
				Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE "balance" > $1 AND ("id" = $2 OR "id" = $3) ORDER BY "balance" DESC LIMIT 10 OFFSET 5`,
			expectedArgs: []any{100, int64(1), int64(2)},
		},
		{
			name: "not single condition",
			filter: stillsuit.NewFilter().
				Not(stillsuit.Condition{Field: "balance", Operator: stillsuit.OpEqual, Value: 0}).
				Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE NOT ("balance" = $1)`,
			expectedArgs: []any{0},
		},
		{
			name: "not group",
			filter: stillsuit.NewFilter().
				Not(stillsuit.Condition{LogicalOp: stillsuit.LogicalOR, Conditions: []stillsuit.Condition{
					{Field: "balance", Operator: stillsuit.OpEqual, Value: 0},
					{Field: "balance", Operator: stillsuit.OpEqual, Value: 1},
				}}).
				Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE NOT (("balance" = $1 OR "balance" = $2))`,
			expectedArgs: []any{0, 1},
		},
		{
			name: "nested groups",
			filter: stillsuit.NewFilter().
				Or(
					stillsuit.Condition{LogicalOp: stillsuit.LogicalAND, Conditions: []stillsuit.Condition{
						{Field: "balance", Operator: stillsuit.OpGreaterThan, Value: 10},
						{Field: "balance", Operator: stillsuit.OpLessThan, Value: 20},
					}},
					stillsuit.Condition{LogicalOp: stillsuit.LogicalAND, Conditions: []stillsuit.Condition{
						{Field: "id", Operator: stillsuit.OpGreaterThan, Value: 1},
						{Field: "id", Operator: stillsuit.OpLessThan, Value: 5},
					}},
				).
				Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE (("balance" > $1 AND "balance" < $2) OR ("id" > $3 AND "id" < $4))`,
			expectedArgs: []any{10, 20, 1, 5},
		},
		{
			name:         "in",
			filter:       stillsuit.NewFilter().Where("id", stillsuit.OpIn, []int64{1, 2, 3}).Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE "id" IN ($1, $2, $3)`,
			expectedArgs: []any{int64(1), int64(2), int64(3)},
		},
		{
			name:         "not in",
			filter:       stillsuit.NewFilter().Where("balance", stillsuit.OpNotIn, []int{100, 200}).Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE "balance" NOT IN ($1, $2)`,
			expectedArgs: []any{100, 200},
		},
		{
			name:         "like",
			filter:       stillsuit.NewFilter().Where("id", stillsuit.OpLike, "%test%").Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE "id" LIKE $1`,
			expectedArgs: []any{"%test%"},
		},
		{
			name:         "ilike",
			filter:       stillsuit.NewFilter().Where("balance", stillsuit.OpILike, "%TEST%").Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE "balance" ILIKE $1`,
			expectedArgs: []any{"%TEST%"},
		},
		{
			name:     "is null",
			filter:   stillsuit.NewFilter().Where("balance", stillsuit.OpIsNull, nil).Build(),
			expected: `SELECT "id", "balance" FROM "accounts" WHERE "balance" IS NULL`,
		},
		{
			name:     "is not null",
			filter:   stillsuit.NewFilter().Where("id", stillsuit.OpIsNotNull, nil).Build(),
			expected: `SELECT "id", "balance" FROM "accounts" WHERE "id" IS NOT NULL`,
		},
		{
			name:         "between",
			filter:       stillsuit.NewFilter().Where("balance", stillsuit.OpBetween, []int{100, 500}).Build(),
			expected:     `SELECT "id", "balance" FROM "accounts" WHERE "balance" BETWEEN $1 AND $2`,
			expectedArgs: []any{100, 500},
		},
		{
			name: "multiple sort fields",
			filter: stillsuit.NewFilter().
				OrderBy("balance", stillsuit.SortDesc).
				OrderBy("id", stillsuit.SortAsc).
				Build(),
			expected: `SELECT "id", "balance" FROM "accounts" ORDER BY "balance" DESC, "id" ASC`,
		},
		{
			name:     "limit and offset",
			filter:   stillsuit.NewFilter().Limit(10).Offset(20).Build(),
			expected: `SELECT "id", "balance" FROM "accounts" LIMIT 10 OFFSET 20`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := m.queryBuilder(Postgres, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, query)
			assert.Equal(t, len(tt.expectedArgs), len(args))
			for i, want := range tt.expectedArgs {
				assert.Equal(t, want, args[i])
			}
		})
	}
}

func TestQueryBuilder_SQLite(t *testing.T) {
	m := accountMapping(t, "accounts")

	query, args, err := m.queryBuilder(SQLite, stillsuit.NewFilter().
		Where("balance", stillsuit.OpILike, "%x%").
		Where("id", stillsuit.OpIn, []int64{1, 2}).
		Offset(3).
		Build())
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "balance" FROM "accounts" WHERE LOWER("balance") LIKE LOWER(?) AND "id" IN (?, ?) LIMIT -1 OFFSET 3`, query)
	assert.Len(t, args, 3)
}

func TestQueryBuilder_Errors(t *testing.T) {
	m := accountMapping(t, "accounts")

	tests := []struct {
		name   string
		filter *stillsuit.Filter
	}{
		{"invalid field", stillsuit.NewFilter().Where("nope", stillsuit.OpEqual, 1).Build()},
		{"invalid sort field", stillsuit.NewFilter().OrderBy("nope", stillsuit.SortAsc).Build()},
		{"in with non slice", stillsuit.NewFilter().Where("id", stillsuit.OpIn, 1).Build()},
		{"in with empty slice", stillsuit.NewFilter().Where("id", stillsuit.OpIn, []int{}).Build()},
		{"between with one value", stillsuit.NewFilter().Where("id", stillsuit.OpBetween, []int{1}).Build()},
		{"unknown operator", stillsuit.NewFilter().Where("id", stillsuit.Operator("~"), 1).Build()},
		{"invalid field inside group", stillsuit.NewFilter().Or(
			stillsuit.Condition{Field: "id", Operator: stillsuit.OpEqual, Value: 1},
			stillsuit.Condition{Field: "nope", Operator: stillsuit.OpEqual, Value: 2},
		).Build()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.queryBuilder(Postgres, tt.filter)
			assert.ErrorIs(t, err, stillsuit.ErrInvalidArgument)
		})
	}
}

func TestCountBuilder(t *testing.T) {
	m := accountMapping(t, "accounts")

	query, args, err := m.countBuilder(Postgres, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "accounts"`, query)
	assert.Empty(t, args)

	query, args, err = m.countBuilder(Postgres, stillsuit.NewFilter().
		Where("balance", stillsuit.OpGreaterThanOrEqual, 10).
		Limit(5).
		Build())
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "accounts" WHERE "balance" >= $1`, query)
	assert.Equal(t, []any{10}, args)
}

func TestCacheKey(t *testing.T) {
	a := cacheKey("top", "accounts", "SELECT 1", []any{1})
	b := cacheKey("top", "accounts", "SELECT 1", []any{2})
	c := cacheKey("top", "accounts", "SELECT 1", []any{"1"})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, cacheKey("top", "accounts", "SELECT 1", []any{1}))
	assert.Contains(t, a, "top:accounts:")
}

func TestSchema_CreateTableSQL(t *testing.T) {
	def, err := InferTableDef[testutils.Account]("accounts")
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS \"accounts\" (\n  \"id\" BIGINT PRIMARY KEY,\n  \"balance\" INTEGER NOT NULL\n)", GenerateCreateTableSQL(def))

	idx := &IndexDef{Name: "idx_balance", Type: IndexTypeBTree, Columns: []string{"balance"}}
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_balance" ON "accounts" USING BTREE ("balance")`, GenerateCreateIndexSQL(Postgres, "accounts", idx))
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_balance" ON "accounts" ("balance")`, GenerateCreateIndexSQL(SQLite, "accounts", idx))
	assert.Equal(t, `DROP TABLE IF EXISTS "accounts" CASCADE`, GenerateDropTableSQL(Postgres, "accounts"))
	assert.Equal(t, `DROP TABLE IF EXISTS "accounts"`, GenerateDropTableSQL(SQLite, "accounts"))
}
