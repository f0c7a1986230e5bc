package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tokensale/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func setupJournal(t *testing.T) (*Journal, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	j, err := New(db, nil)
	require.NoError(t, err)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	j.SetNowFunc(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return j, db
}

func purchased(buyer string) *types.Event {
	return &types.Event{Type: "presale.purchased", Attributes: map[string]string{
		"buyer":       buyer,
		"tokenAmount": "1000",
	}}
}

func TestAppendLinksEntries(t *testing.T) {
	j, _ := setupJournal(t)
	ctx := context.Background()

	first, err := j.Append(ctx, purchased("0x01"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.Sequence)
	require.Equal(t, GenesisHash, first.PrevHash)
	require.Len(t, first.Hash, 64)

	second, err := j.Append(ctx, purchased("0x02"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.Sequence)
	require.Equal(t, first.Hash, second.PrevHash)
	require.NotEqual(t, first.Hash, second.Hash)

	head, err := j.Head(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, head.ID)

	count, err := j.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
}

func TestEmitAndList(t *testing.T) {
	j, _ := setupJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		j.Emit(testEvent{evt: purchased(fmt.Sprintf("0x%02d", i))})
	}

	page, err := j.List(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(1), page[0].Sequence)

	rest, err := j.List(ctx, page[1].Sequence, 0)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	require.Equal(t, uint64(3), rest[0].Sequence)

	evt, err := rest[2].Event()
	require.NoError(t, err)
	require.Equal(t, "presale.purchased", evt.Type)
	require.Equal(t, "0x04", evt.Attributes["buyer"])
}

func TestEmptyJournal(t *testing.T) {
	j, _ := setupJournal(t)
	ctx := context.Background()

	head, err := j.Head(ctx)
	require.NoError(t, err)
	require.Nil(t, head)

	count, err := j.Verify(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = j.Append(ctx, nil)
	require.Error(t, err)
}

func TestVerifyDetectsTampering(t *testing.T) {
	j, db := setupJournal(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, purchased(fmt.Sprintf("0x%02d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, db.Model(&Entry{}).Where("sequence = ?", 2).
		Update("attributes", `{"buyer":"0xff","tokenAmount":"1000"}`).Error)

	count, err := j.Verify(ctx)
	require.ErrorIs(t, err, ErrChainBroken)
	require.Equal(t, uint64(1), count)
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	j, db := setupJournal(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, purchased(fmt.Sprintf("0x%02d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, db.Where("sequence = ?", 2).Delete(&Entry{}).Error)

	_, err := j.Verify(ctx)
	require.ErrorIs(t, err, ErrChainBroken)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
