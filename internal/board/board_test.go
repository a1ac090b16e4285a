package board

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"crmconsole/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	items   []schema.Record
	patches []schema.Record
	ids     []string
	err     error
	during  func()
}

func (f *fakeBackend) List(context.Context, string, url.Values) ([]schema.Record, error) {
	return f.items, nil
}

func (f *fakeBackend) Patch(_ context.Context, _ string, id string, patch schema.Record) (schema.Record, error) {
	if f.during != nil {
		f.during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	f.patches = append(f.patches, patch)
	if f.err != nil {
		return nil, f.err
	}
	return patch, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

func leadScreen() *schema.Screen {
	return &schema.Screen{
		Name:  "leads",
		Title: "Leads",
		Fields: []schema.Field{
			{Key: "name", Kind: schema.KindText},
			{Key: "status", Kind: schema.KindSelect},
			{Key: "value", Kind: schema.KindCurrency, Currency: "$"},
		},
		Endpoints: schema.Endpoints{List: "/leads", UpdateStatus: "/leads"},
		Board: &schema.BoardSpec{
			StatusField: "status",
			TitleField:  "name",
			Columns: []schema.BoardColumn{
				{Value: "new", Label: "New"},
				{Value: "qualified", Label: "Qualified", Limit: 2},
				{Value: "lost", Label: "Lost"},
			},
		},
	}
}

func leads() []schema.Record {
	return []schema.Record{
		{"id": "l1", "name": "Ann", "status": "new", "value": 100},
		{"id": "l2", "name": "Bob", "status": "new", "value": 200},
		{"id": "l3", "name": "Cid", "status": "qualified", "value": 300},
	}
}

func newBoard(t *testing.T, be *fakeBackend, opts ...Option) *Board {
	t.Helper()
	b, err := New(leadScreen(), be, opts...)
	require.NoError(t, err)
	b.SetItems(context.Background(), leads())
	return b
}

func groupOf(v View, value string) Group {
	for _, g := range v.Groups {
		if g.Value == value {
			return g
		}
	}
	return Group{}
}

func TestGroupsDerived(t *testing.T) {
	b := newBoard(t, &fakeBackend{})
	v := b.View()
	require.Len(t, v.Groups, 3)
	assert.Equal(t, 2, groupOf(v, "new").Count)
	assert.Equal(t, 1, groupOf(v, "qualified").Count)
	assert.Equal(t, 0, groupOf(v, "lost").Count)
	assert.Equal(t, "Ann", groupOf(v, "new").Cards[0].Title)
	assert.Equal(t, "$300.00", groupOf(v, "qualified").Cards[0].Cells[0].Text)
}

func TestUndeclaredStatusGetsOwnGroup(t *testing.T) {
	b := newBoard(t, &fakeBackend{})
	b.SetItems(context.Background(), append(leads(), schema.Record{"id": "l9", "status": "archived"}))
	v := b.View()
	require.Len(t, v.Groups, 4)
	assert.Equal(t, "archived", v.Groups[3].Value)
	assert.Equal(t, "l9", v.Groups[3].Cards[0].Title)
}

func TestMoveCommits(t *testing.T) {
	be := &fakeBackend{}
	changes := 0
	b := newBoard(t, be, OnDataChange(func() { changes++ }))

	require.NoError(t, b.Move(context.Background(), "l1", "qualified"))
	assert.Equal(t, "qualified", b.Status("l1"))
	assert.Equal(t, []schema.Record{{"status": "qualified"}}, be.patches)
	assert.Equal(t, []string{"l1"}, be.ids)
	assert.Equal(t, 1, changes)
	assert.False(t, groupOf(b.View(), "qualified").Cards[0].Pending)
}

func TestMoveToSameColumnIsNoop(t *testing.T) {
	be := &fakeBackend{}
	b := newBoard(t, be)
	require.NoError(t, b.Move(context.Background(), "l1", "new"))
	assert.Equal(t, 0, be.calls())
	assert.Equal(t, "new", b.Status("l1"))
}

func TestFailedMoveRollsBack(t *testing.T) {
	be := &fakeBackend{err: errors.New("502 bad gateway")}
	var surfaced []error
	changes := 0
	b := newBoard(t, be,
		WithNotify(func(err error) { surfaced = append(surfaced, err) }),
		OnDataChange(func() { changes++ }))

	err := b.Move(context.Background(), "l1", "lost")
	require.Error(t, err)
	assert.Equal(t, "new", b.Status("l1"))
	assert.Len(t, surfaced, 1)
	assert.Equal(t, 0, changes)
	assert.Equal(t, 2, groupOf(b.View(), "new").Count)
}

func TestOptimisticStateVisibleDuringCall(t *testing.T) {
	be := &fakeBackend{}
	var b *Board
	var seen string
	var pending bool
	be.during = func() {
		seen = b.Status("l2")
		pending = groupOf(b.View(), "lost").Cards[0].Pending
	}
	b = newBoard(t, be)

	require.NoError(t, b.Move(context.Background(), "l2", "lost"))
	assert.Equal(t, "lost", seen)
	assert.True(t, pending)
}

func TestRollbackSkippedAfterReload(t *testing.T) {
	be := &fakeBackend{err: errors.New("timeout")}
	var b *Board
	be.during = func() {
		// авторитетные данные пришли во время запроса
		b.SetItems(context.Background(), []schema.Record{{"id": "l1", "name": "Ann", "status": "qualified"}})
	}
	b = newBoard(t, be)

	require.Error(t, b.Move(context.Background(), "l1", "lost"))
	assert.Equal(t, "qualified", b.Status("l1"))
}

func TestMoveRefusedWhileInFlight(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	be := &fakeBackend{err: errors.New("502 bad gateway")}
	be.during = func() {
		close(entered)
		<-release
	}
	b := newBoard(t, be)

	first := make(chan error, 1)
	go func() { first <- b.Move(context.Background(), "l1", "qualified") }()
	<-entered

	assert.Equal(t, "qualified", b.Status("l1"))
	err := b.Move(context.Background(), "l1", "lost")
	assert.ErrorIs(t, err, ErrTransitionPending)

	close(release)
	require.Error(t, <-first)
	assert.Equal(t, "new", b.Status("l1"))
	assert.Equal(t, 1, be.calls())

	be.during = nil
	be.mu.Lock()
	be.err = nil
	be.mu.Unlock()
	require.NoError(t, b.Move(context.Background(), "l1", "lost"))
	assert.Equal(t, "lost", b.Status("l1"))
}

func TestColumnCapacity(t *testing.T) {
	be := &fakeBackend{}
	b := newBoard(t, be)
	require.NoError(t, b.Move(context.Background(), "l1", "qualified"))
	assert.True(t, groupOf(b.View(), "qualified").Full)

	err := b.Move(context.Background(), "l2", "qualified")
	assert.ErrorIs(t, err, ErrColumnFull)
	assert.Equal(t, 1, be.calls())
	assert.Equal(t, "new", b.Status("l2"))
}

func TestTransitionRules(t *testing.T) {
	s := leadScreen()
	s.Board.Transitions = map[string][]string{
		"new":       {"qualified", "lost"},
		"qualified": {"lost"},
	}
	be := &fakeBackend{}
	b, err := New(s, be)
	require.NoError(t, err)
	b.SetItems(context.Background(), leads())

	assert.ErrorIs(t, b.Move(context.Background(), "l3", "new"), ErrTransitionNotAllowed)
	require.NoError(t, b.Move(context.Background(), "l3", "lost"))
	assert.ErrorIs(t, b.Move(context.Background(), "l3", "new"), ErrTransitionNotAllowed)
	assert.Equal(t, 1, be.calls())
}

func TestUnknownTargets(t *testing.T) {
	b := newBoard(t, &fakeBackend{})
	assert.ErrorIs(t, b.Move(context.Background(), "nope", "lost"), ErrUnknownItem)
	assert.ErrorIs(t, b.Move(context.Background(), "l1", "archived"), ErrUnknownColumn)
}

func TestNewRequiresBoard(t *testing.T) {
	_, err := New(&schema.Screen{Name: "plain"}, &fakeBackend{})
	assert.ErrorIs(t, err, ErrNoBoard)
}

func TestSetItemsDoesNotMutateCaller(t *testing.T) {
	rows := leads()
	b := newBoard(t, &fakeBackend{})
	b.SetItems(context.Background(), rows)
	require.NoError(t, b.Move(context.Background(), "l1", "lost"))
	assert.Equal(t, "new", rows[0]["status"])
}
