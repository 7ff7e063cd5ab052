package channel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-chat/orbit-client/eventwire"
)

func wireItem(id, tempID, authorID string) eventwire.WireItem {
	return eventwire.WireItem{
		ID:        id,
		TempID:    tempID,
		AuthorID:  authorID,
		Body:      json.RawMessage(`{"title":"x"}`),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestItemStoreReconcile(t *testing.T) {
	s := NewItemStore(SurfaceBoard, "me")
	key := Normalize("s1", "board")

	tempID, it := s.SendOptimistic(key, json.RawMessage(`{"title":"x"}`))
	require.True(t, it.Optimistic)

	// Подтверждение собственной карточки приходит обычным событием.
	s.ApplyEvent(key, wireItem("i1", tempID, "me"), false)
	items := s.Items(key)
	require.Len(t, items, 1)
	assert.Equal(t, "i1", items[0].ID)
	assert.False(t, items[0].Optimistic)
}

func TestItemStoreReconcileAfterReload(t *testing.T) {
	s := NewItemStore(SurfaceForm, "me")
	key := Normalize("s1", "form")
	tempID, _ := s.SendOptimistic(key, json.RawMessage(`{}`))

	s.LoadState(key, []eventwire.WireItem{wireItem("i1", "", "me")})
	s.Reconcile(key, tempID, wireItem("i1", tempID, "me"))
	assert.Len(t, s.Items(key), 1)

	s.LoadState(key, nil)
	s.Reconcile(key, tempID, wireItem("i1", tempID, "me"))
	s.Reconcile(key, tempID, wireItem("i1", tempID, "me"))
	assert.Len(t, s.Items(key), 1)
}

func TestItemStoreUpsertAndDelete(t *testing.T) {
	s := NewItemStore(SurfaceHabit, "me")
	key := Normalize("s1", "habit")

	s.ApplyEvent(key, wireItem("i1", "", "other"), false)
	require.Len(t, s.Items(key), 1)

	updated := wireItem("i1", "", "other")
	updated.Body = json.RawMessage(`{"title":"y"}`)
	s.ApplyEvent(key, updated, false)
	items := s.Items(key)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"title":"y"}`, string(items[0].Body))

	s.ApplyEvent(key, wireItem("i1", "", "other"), true)
	assert.Empty(t, s.Items(key))

	// Удаление неизвестного элемента ничего не создаёт.
	s.ApplyEvent(key, wireItem("i9", "", "other"), true)
	assert.Empty(t, s.Items(key))
}
