package populate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/populate/internal/orm/cache"
	"github.com/conduit-lang/populate/internal/orm/entity"
	"github.com/conduit-lang/populate/internal/orm/executor"
	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
	"github.com/conduit-lang/populate/internal/orm/testutil"
)

var petColumns = []string{"p0__id", "p0__name", "p0__user_id", "p0__action_id"}

func newMock(t *testing.T) (*executor.SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return executor.New(db, query.SQLite, executor.WithConcurrency(false)), mock
}

func names(t *testing.T, items []*entity.Entity) []any {
	t.Helper()
	out := make([]any, 0, len(items))
	for _, e := range items {
		v, _ := e.Get("name")
		out = append(out, v)
	}
	return out
}

func TestFinder_SelectIn(t *testing.T) {
	exec, mock := newMock(t)

	mock.ExpectQuery(`SELECT ` + userCols + ` FROM "users" AS "u0"`).
		WillReturnRows(sqlmock.NewRows([]string{"u0__id", "u0__name"}).
			AddRow(int64(1), "alice").
			AddRow(int64(2), "bob"))
	mock.ExpectQuery(`SELECT ` + petCols0 + ` FROM "pets" AS "p0"` +
		` WHERE "p0"."user_id" IN (?, ?) AND "p0"."name" = ?` +
		` ORDER BY "p0"."user_id" ASC, "p0"."id" ASC`).
		WithArgs(int64(1), int64(2), "yoyo").
		WillReturnRows(sqlmock.NewRows(petColumns).
			AddRow(int64(3), "yoyo", int64(1), nil))

	f := NewFinder(testutil.PetStore(), exec, nil)
	users, err := f.Find(context.Background(), "User", FindOptions{
		Populate:      MustPaths("pets"),
		PopulateWhere: map[string]query.Predicate{"pets": query.Eq("name", "yoyo")},
	})
	require.NoError(t, err)
	require.Len(t, users, 2)

	alicePets, err := users[0].Collection("pets").Items()
	require.NoError(t, err)
	assert.Equal(t, []any{"yoyo"}, names(t, alicePets))

	bobPets, err := users[1].Collection("pets").Items()
	require.NoError(t, err, "a parent with no matches is loaded and empty")
	assert.Empty(t, bobPets)

	assert.False(t, users[0].Collection("friends").Loaded())
	assert.False(t, alicePets[0].Reference("action").Loaded(), "unrequested relations stay unloaded")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinder_Joined(t *testing.T) {
	exec, mock := newMock(t)

	mock.ExpectQuery(`SELECT `+userCols+`, `+petCols1+` FROM "users" AS "u0"`+
		` LEFT JOIN "pets" AS "p1" ON "u0"."id" = "p1"."user_id" AND "p1"."name" = ?`+
		` WHERE "u0"."id" IN (SELECT "u3"."id" FROM (SELECT "u2"."id" FROM "users" AS "u2"`+
		` GROUP BY "u2"."id" ORDER BY "u2"."id" ASC LIMIT ?) AS "u3")`+
		` ORDER BY "u0"."id" ASC, "p1"."id" ASC`).
		WithArgs("yoyo", 30).
		WillReturnRows(sqlmock.NewRows([]string{"u0__id", "u0__name", "p1__id", "p1__name", "p1__user_id", "p1__action_id"}).
			AddRow(int64(1), "alice", int64(3), "yoyo", int64(1), nil).
			AddRow(int64(1), "alice", int64(3), "yoyo", int64(1), nil).
			AddRow(int64(2), "bob", nil, nil, nil, nil))

	f := NewFinder(testutil.PetStore(), exec, nil)
	users, err := f.Find(context.Background(), "User", FindOptions{
		Populate:      MustPaths("pets"),
		PopulateWhere: map[string]query.Predicate{"pets": query.Eq("name", "yoyo")},
		Strategy:      schema.StrategyJoined,
		Limit:         30,
	})
	require.NoError(t, err)
	require.Len(t, users, 2, "roots are deduplicated in first-seen order")

	alicePets, err := users[0].Collection("pets").Items()
	require.NoError(t, err)
	assert.Len(t, alicePets, 1, "children are deduplicated by primary key")

	bobPets, err := users[1].Collection("pets").Items()
	require.NoError(t, err)
	assert.Empty(t, bobPets, "a NULL child key attaches nothing")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinder_EmptyKeySetRunsNoFollowUp(t *testing.T) {
	exec, mock := newMock(t)

	mock.ExpectQuery(`SELECT ` + petCols0 + ` FROM "pets" AS "p0"`).
		WillReturnRows(sqlmock.NewRows(petColumns).
			AddRow(int64(1), "stray", nil, nil).
			AddRow(int64(2), "other", nil, nil))

	f := NewFinder(testutil.PetStore(), exec, nil)
	pets, err := f.Find(context.Background(), "Pet", FindOptions{Populate: MustPaths("user:select-in")})
	require.NoError(t, err)
	require.Len(t, pets, 2)

	for _, p := range pets {
		ref := p.Reference("user")
		assert.True(t, ref.Loaded())
		owner, err := ref.Get()
		require.NoError(t, err)
		assert.Nil(t, owner)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinder_EmptyRootSkipsFollowUps(t *testing.T) {
	exec, mock := newMock(t)
	mock.ExpectQuery(`SELECT ` + userCols + ` FROM "users" AS "u0"`).
		WillReturnRows(sqlmock.NewRows([]string{"u0__id", "u0__name"}))

	users, err := NewFinder(testutil.PetStore(), exec, nil).
		Find(context.Background(), "User", FindOptions{Populate: MustPaths("pets.tags")})
	require.NoError(t, err)
	assert.Empty(t, users)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinder_BelongsToDeduplicatesKeys(t *testing.T) {
	exec, mock := newMock(t)

	mock.ExpectQuery(`SELECT ` + petCols0 + ` FROM "pets" AS "p0"`).
		WillReturnRows(sqlmock.NewRows(petColumns).
			AddRow(int64(1), "a", int64(7), nil).
			AddRow(int64(2), "b", int64(7), nil).
			AddRow(int64(3), "c", nil, nil))
	mock.ExpectQuery(`SELECT ` + userCols + ` FROM "users" AS "u0" WHERE "u0"."id" IN (?) ORDER BY "u0"."id" ASC`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"u0__id", "u0__name"}).AddRow(int64(7), "owner"))

	pets, err := NewFinder(testutil.PetStore(), exec, nil).
		Find(context.Background(), "Pet", FindOptions{Populate: MustPaths("user:select-in")})
	require.NoError(t, err)
	require.Len(t, pets, 3)

	a, _ := pets[0].Reference("user").Get()
	b, _ := pets[1].Reference("user").Get()
	c, _ := pets[2].Reference("user").Get()
	require.NotNil(t, a)
	assert.Same(t, a, b, "one instance per primary key")
	assert.Nil(t, c)
	assert.True(t, pets[2].Reference("user").Loaded())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinder_ChunksLargeKeySets(t *testing.T) {
	exec, mock := newMock(t)

	users := sqlmock.NewRows([]string{"u0__id", "u0__name"})
	for i := 1; i <= 3; i++ {
		users.AddRow(int64(i), "u")
	}
	mock.ExpectQuery(`SELECT ` + userCols + ` FROM "users" AS "u0"`).WillReturnRows(users)

	follow := `SELECT ` + petCols0 + ` FROM "pets" AS "p0" WHERE "p0"."user_id" IN (%s) ORDER BY "p0"."user_id" ASC, "p0"."id" ASC`
	mock.ExpectQuery(fmt.Sprintf(follow, "?, ?")).WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(petColumns).AddRow(int64(10), "p", int64(2), nil))
	mock.ExpectQuery(fmt.Sprintf(follow, "?")).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(petColumns).AddRow(int64(11), "q", int64(3), nil))

	f := NewFinder(testutil.PetStore(), exec, nil, WithConfig(Config{MaxInParams: 2}))
	got, err := f.Find(context.Background(), "User", FindOptions{Populate: MustPaths("pets")})
	require.NoError(t, err)

	lens := make([]int, 0, len(got))
	for _, u := range got {
		lens = append(lens, u.Collection("pets").Len())
	}
	assert.Equal(t, []int{0, 1, 1}, lens)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinder_FollowUpErrorFailsRequest(t *testing.T) {
	exec, mock := newMock(t)
	dbErr := errors.New("relation \"pets\" does not exist")

	mock.ExpectQuery(`SELECT ` + userCols + ` FROM "users" AS "u0"`).
		WillReturnRows(sqlmock.NewRows([]string{"u0__id", "u0__name"}).AddRow(int64(1), "alice"))
	mock.ExpectQuery(`SELECT ` + petCols0 + ` FROM "pets" AS "p0" WHERE "p0"."user_id" IN (?) ORDER BY "p0"."user_id" ASC, "p0"."id" ASC`).
		WillReturnError(dbErr)

	users, err := NewFinder(testutil.PetStore(), exec, nil).
		Find(context.Background(), "User", FindOptions{Populate: MustPaths("pets")})
	assert.Same(t, dbErr, err, "executor errors are returned unmodified")
	assert.Nil(t, users, "no partial graph")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinder_InvalidPathRunsNothing(t *testing.T) {
	exec, mock := newMock(t)

	_, err := NewFinder(testutil.PetStore(), exec, nil).
		Find(context.Background(), "User", FindOptions{Populate: MustPaths("pets.owner")})
	assert.ErrorIs(t, err, ErrInvalidRelationPath)
	require.NoError(t, mock.ExpectationsWereMet())
}

// siblingHandler answers the User root with one user and blocks both
// sibling follow-ups until the other has started, or the timeout fires.
func siblingHandler(timeout time.Duration) func(context.Context, string, []any) ([]executor.Row, error) {
	var started sync.WaitGroup
	started.Add(2)
	return func(ctx context.Context, sql string, _ []any) ([]executor.Row, error) {
		if from(sql, "users") {
			return []executor.Row{{"u0__id": int64(1), "u0__name": "alice"}}, nil
		}
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(timeout):
		}
		return nil, nil
	}
}

func TestFinder_SiblingsRunConcurrently(t *testing.T) {
	exec := &fakeExecutor{dialect: query.SQLite, concurrent: true, handler: siblingHandler(2 * time.Second)}

	users, err := NewFinder(testutil.PetStore(), exec, nil).Find(context.Background(), "User", FindOptions{
		Populate: MustPaths("pets", "profile:select-in"),
	})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.EqualValues(t, 2, exec.peak.Load(), "both follow-ups were in flight together")
	assert.True(t, users[0].Collection("pets").Loaded())
	assert.True(t, users[0].Reference("profile").Loaded())
}

func TestFinder_SequentialExecutor(t *testing.T) {
	exec := &fakeExecutor{dialect: query.SQLite, concurrent: false, handler: siblingHandler(10 * time.Millisecond)}

	_, err := NewFinder(testutil.PetStore(), exec, nil).Find(context.Background(), "User", FindOptions{
		Populate: MustPaths("pets", "profile:select-in"),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, exec.peak.Load())
	assert.Len(t, exec.ran(), 3)
}

func TestFinder_ConcurrentFailureIsReturned(t *testing.T) {
	boom := errors.New("boom")
	exec := &fakeExecutor{dialect: query.SQLite, concurrent: true}
	exec.handler = func(ctx context.Context, sql string, _ []any) ([]executor.Row, error) {
		switch {
		case from(sql, "users"):
			return []executor.Row{{"u0__id": int64(1), "u0__name": "alice"}}, nil
		case from(sql, "profiles"):
			return nil, boom
		default:
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}

	users, err := NewFinder(testutil.PetStore(), exec, nil).Find(context.Background(), "User", FindOptions{
		Populate: MustPaths("pets", "profile:select-in"),
	})
	assert.Same(t, boom, err)
	assert.Nil(t, users)
}

func TestFinder_FindAndCount(t *testing.T) {
	exec, mock := newMock(t)
	counts := cache.NewMemoryCache()
	defer counts.Close()

	countSQL := `SELECT COUNT(*) AS "count" FROM "users" AS "u0" WHERE "u0"."name" <> ?`
	rootSQL := `SELECT ` + userCols + ` FROM "users" AS "u0" WHERE "u0"."name" <> ? ORDER BY "u0"."id" ASC LIMIT ?`

	mock.ExpectQuery(countSQL).WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery(rootSQL).WithArgs("nobody", 1).
		WillReturnRows(sqlmock.NewRows([]string{"u0__id", "u0__name"}).AddRow(int64(1), "alice"))
	// second call: count comes from the cache
	mock.ExpectQuery(rootSQL).WithArgs("nobody", 1).
		WillReturnRows(sqlmock.NewRows([]string{"u0__id", "u0__name"}).AddRow(int64(1), "alice"))

	core, logs := observer.New(zap.DebugLevel)
	f := NewFinder(testutil.PetStore(), exec, nil,
		WithCountCache(counts, time.Minute),
		WithLogger(zap.New(core)))

	opts := FindOptions{Where: query.NotEq("name", "nobody"), Limit: 1}
	for i := 0; i < 2; i++ {
		users, total, err := f.FindAndCount(context.Background(), "User", opts)
		require.NoError(t, err)
		assert.Len(t, users, 1)
		assert.Equal(t, 12, total)
	}
	require.NoError(t, mock.ExpectationsWereMet())

	hits := logs.FilterMessage("count cache hit").All()
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].ContextMap(), "request_id")
}

func TestFinder_SharedIdentityMap(t *testing.T) {
	identity := entity.NewIdentityMap()
	exec := &fakeExecutor{dialect: query.SQLite}
	exec.handler = func(_ context.Context, sql string, _ []any) ([]executor.Row, error) {
		if from(sql, "users") {
			return []executor.Row{{"u0__id": int64(1), "u0__name": "alice"}}, nil
		}
		return []executor.Row{{"p0__id": int64(5), "p0__name": "yoyo", "p0__user_id": int64(1), "p0__action_id": nil}}, nil
	}

	f := NewFinder(testutil.PetStore(), exec, identity)
	first, err := f.Find(context.Background(), "User", FindOptions{})
	require.NoError(t, err)
	second, err := f.Find(context.Background(), "User", FindOptions{Populate: MustPaths("pets")})
	require.NoError(t, err)

	assert.Same(t, first[0], second[0])
	assert.Equal(t, 1, first[0].Collection("pets").Len(), "populating later fills the existing instance")
}

func TestToInt(t *testing.T) {
	for _, v := range []any{int64(4), 4, int32(4), uint64(4), float64(4), "4", []byte("4")} {
		n, err := toInt(v)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	}
	_, err := toInt(nil)
	assert.Error(t, err)
}
