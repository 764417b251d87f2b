package activity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "activity.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))
	return NewService(db), db
}

func TestAppendAssignsSequencePerActorAndKind(t *testing.T) {
	svc, db := newTestService(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Append(db, &Record{Actor: "admin", Kind: KindFill, OrderPosition: uint64(i)}))
	}
	require.NoError(t, svc.Append(db, &Record{Actor: "admin", Kind: KindCancel, OrderPosition: 9}))

	records, total, err := svc.Paginate("admin", KindFill, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, records, 3)

	// Cancel records sequence independently of fills.
	cancels, total, err := svc.Paginate("admin", KindCancel, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, cancels, 1)
	assert.Equal(t, uint64(0), cancels[0].Sequence)
}

func TestPaginateBackward(t *testing.T) {
	svc, db := newTestService(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Append(db, &Record{Actor: "admin", Kind: KindFill, OrderPosition: uint64(i)}))
	}

	records, total, err := svc.Paginate("admin", KindFill, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(4), records[0].Sequence)
	assert.Equal(t, uint64(3), records[1].Sequence)

	records, _, err = svc.Paginate("admin", KindFill, 2, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(0), records[0].Sequence)

	// An out-of-range page is empty, not an error.
	records, _, err = svc.Paginate("admin", KindFill, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, records)

	// A negative page clamps to the first page.
	records, _, err = svc.Paginate("admin", KindFill, -1, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(4), records[0].Sequence)
}

func TestPaginateUnknownActor(t *testing.T) {
	svc, _ := newTestService(t)

	records, total, err := svc.Paginate("nobody", KindFill, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, records)
}
