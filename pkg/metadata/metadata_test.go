package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/resthub/internal/testutil"
	"github.com/ethpandaops/resthub/pkg/cache"
	"github.com/ethpandaops/resthub/pkg/sqltext"
	"github.com/ethpandaops/resthub/pkg/tabular"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func testDefaults() cache.Policy {
	return cache.Policy{CacheTime: 120, HitCount: 0, Timeout: 30 * time.Second, RowsLimit: 1000}
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		table   Table
		wantErr error
	}{
		{
			name:  "valid",
			table: Table{Namespace: "HR", Name: "Emp", SQL: "SELECT * FROM employees WHERE d = :dept"},
		},
		{
			name:    "bad namespace",
			table:   Table{Namespace: "h-r", Name: "emp", SQL: "SELECT 1"},
			wantErr: ErrInvalidName,
		},
		{
			name:    "name too long",
			table:   Table{Namespace: "hr", Name: "a_very_long_table_name_exceeding_limit", SQL: "SELECT 1"},
			wantErr: ErrInvalidName,
		},
		{
			name:    "empty sql",
			table:   Table{Namespace: "hr", Name: "emp", SQL: "  "},
			wantErr: ErrSQLRequired,
		},
		{
			name:    "bad cache time",
			table:   Table{Namespace: "hr", Name: "emp", SQL: "SELECT 1", CacheTime: intPtr(-2)},
			wantErr: ErrInvalidCacheTime,
		},
		{
			name:    "rows limit above max",
			table:   Table{Namespace: "hr", Name: "emp", SQL: "SELECT 1", RowsLimit: 1001},
			wantErr: ErrInvalidRowsLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "hr.emp", tt.table.Key())
			assert.Equal(t, []Parameter{{Name: "dept", Type: tabular.TypeString}}, tt.table.Parameters)
		})
	}
}

func TestTable_Policy(t *testing.T) {
	defaults := testDefaults()

	assert.Equal(t, defaults, (&Table{}).Policy(defaults))

	p := (&Table{CacheTime: intPtr(0), HitCount: 3, Timeout: 5, RowsLimit: 10}).Policy(defaults)
	assert.Equal(t, cache.Policy{CacheTime: 0, HitCount: 3, Timeout: 5 * time.Second, RowsLimit: 10}, p)

	p = (&Table{CacheTime: intPtr(-1), HitCount: -1}).Policy(cache.Policy{HitCount: 4, RowsLimit: 5000})
	assert.Equal(t, -1, p.CacheTime)
	assert.Equal(t, 0, p.HitCount)
	assert.Equal(t, MaxRowsLimit, p.RowsLimit)
}

func TestCombine(t *testing.T) {
	defaults := testDefaults()

	tests := []struct {
		name     string
		policies []cache.Policy
		want     cache.Policy
	}{
		{
			name: "no references uses defaults",
			want: defaults,
		},
		{
			name: "any skip skips",
			policies: []cache.Policy{
				{CacheTime: 60, Timeout: time.Second, RowsLimit: 10},
				{CacheTime: 0, Timeout: time.Second, RowsLimit: 10},
			},
			want: cache.Policy{CacheTime: 0, Timeout: time.Second, RowsLimit: 10},
		},
		{
			name: "all eternal stays eternal",
			policies: []cache.Policy{
				{CacheTime: -1, Timeout: 2 * time.Second, RowsLimit: 10},
				{CacheTime: -1, Timeout: time.Second, RowsLimit: 20},
			},
			want: cache.Policy{CacheTime: -1, Timeout: time.Second, RowsLimit: 10},
		},
		{
			name: "shortest ttl and smallest budgets",
			policies: []cache.Policy{
				{CacheTime: -1, HitCount: 0, Timeout: 10 * time.Second, RowsLimit: 500},
				{CacheTime: 300, HitCount: 5, Timeout: 30 * time.Second, RowsLimit: 1000},
				{CacheTime: 60, HitCount: 2, Timeout: 20 * time.Second, RowsLimit: 800},
			},
			want: cache.Policy{CacheTime: 60, HitCount: 2, Timeout: 10 * time.Second, RowsLimit: 500},
		},
		{
			name:     "missing timeout and limit fall back to defaults",
			policies: []cache.Policy{{CacheTime: 30}},
			want:     cache.Policy{CacheTime: 30, Timeout: 30 * time.Second, RowsLimit: 1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Combine(defaults, tt.policies...))
		})
	}
}

func TestDefaults(t *testing.T) {
	d := &Defaults{}
	require.NoError(t, d.Validate())
	assert.Equal(t, cache.Policy{CacheTime: 120, Timeout: 30 * time.Second, RowsLimit: 1000}, d.Policy())

	d = &Defaults{CacheTime: intPtr(0), HitCount: 2, Timeout: time.Second, RowsLimit: 50}
	require.NoError(t, d.Validate())
	assert.Equal(t, cache.Policy{CacheTime: 0, HitCount: 2, Timeout: time.Second, RowsLimit: 50}, d.Policy())

	d = &Defaults{RowsLimit: 5000}
	assert.ErrorIs(t, d.Validate(), ErrInvalidRowsLimit)
}

func TestRedisStore(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)
	store := NewRedisStore(client, "resthub:")
	ctx := context.Background()

	_, err := store.Get(ctx, "hr", "emp")
	require.ErrorIs(t, err, ErrTableNotFound)

	emp := &Table{Namespace: "HR", Name: "emp", SQL: "SELECT * FROM employees", CacheTime: intPtr(60)}
	dept := &Table{Namespace: "hr", Name: "dept", SQL: "SELECT * FROM departments"}
	require.NoError(t, store.Put(ctx, emp))
	require.NoError(t, store.Put(ctx, dept))

	assert.True(t, mr.Exists("resthub:table:hr.emp"))
	members, err := mr.Members("resthub:tables")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hr.emp", "hr.dept"}, members)

	got, err := store.Get(ctx, "HR", "EMP")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM employees", got.SQL)
	require.NotNil(t, got.CacheTime)
	assert.Equal(t, 60, *got.CacheTime)

	tables, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "hr.dept", tables[0].Key())
	assert.Equal(t, "hr.emp", tables[1].Key())

	// A dangling index member is skipped
	mr.Del("resthub:table:hr.dept")
	tables, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, 1)

	require.NoError(t, store.Delete(ctx, "hr", "emp"))
	_, err = store.Get(ctx, "hr", "emp")
	assert.ErrorIs(t, err, ErrTableNotFound)

	assert.Error(t, store.Put(ctx, &Table{Namespace: "hr", Name: "bad"}))
}

func TestService_StartAndRefresh(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	store := NewMemoryStore()
	seed := []*Table{
		{Namespace: "hr", Name: "emp", SQL: "SELECT * FROM employees"},
		{Namespace: "ops", Name: "jobs", SQL: "SELECT * FROM jobs"},
	}
	svc := NewService(log, store, seed)
	ctx := context.Background()

	_, ok := svc.Table("hr", "emp")
	assert.False(t, ok)

	require.NoError(t, svc.Start(ctx))

	table, ok := svc.Lookup(sqltext.Ref{Namespace: "hr", Name: "emp"})
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM employees", table.SQL)
	assert.Equal(t, map[string][]string{"hr": {"emp"}, "ops": {"jobs"}}, svc.Namespaces())

	require.NoError(t, store.Put(ctx, &Table{Namespace: "hr", Name: "dept", SQL: "SELECT 1"}))
	_, ok = svc.Table("hr", "dept")
	assert.False(t, ok, "snapshot only changes on refresh")

	require.NoError(t, svc.Refresh(ctx))
	_, ok = svc.Table("HR", "Dept")
	assert.True(t, ok)
	assert.Equal(t, []string{"dept", "emp"}, svc.Namespaces()["hr"])
}

func TestService_StartRejectsInvalidSeed(t *testing.T) {
	svc := NewService(logrus.New(), NewMemoryStore(), []*Table{{Namespace: "hr", Name: "emp"}})
	assert.ErrorIs(t, svc.Start(context.Background()), ErrSQLRequired)
}
