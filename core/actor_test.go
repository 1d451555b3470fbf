package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActor(t *testing.T) {
	reg := NewRegistry()
	damage := reg.MustDefine(&MessageDef{Type: "TakeDamage", Properties: []string{"damageAmount"}})
	bomb, err := reg.Adhoc("BombMessage")
	require.NoError(t, err)

	total := int64(0)
	alive := true
	a := NewActor().
		Handle("TakeDamage", func(msg *Message) bool {
			total += msg.Int("damageAmount")
			return true
		}).
		Handle("BombMessage", func(*Message) bool {
			alive = false
			return true
		}).
		WithPriority(3)

	assert.Equal(t, []string{"TakeDamage", "BombMessage"}, a.Subscriptions())
	assert.Equal(t, 3, a.SyncPriority())
	assert.True(t, a.ID().IsZero())

	assert.True(t, a.HandleMessage(damage.New(map[string]any{"damageAmount": 3})))
	assert.Equal(t, int64(3), total)
	assert.True(t, a.HandleMessage(bomb.New(nil)))
	assert.False(t, alive)

	other, err := reg.Adhoc("Other")
	require.NoError(t, err)
	assert.False(t, a.HandleMessage(other.New(nil)))

	t.Run("Wildcard", func(t *testing.T) {
		seen := 0
		w := NewActor().Handle(Wildcard, func(*Message) bool {
			seen++
			return false
		})
		assert.Equal(t, []string{Wildcard}, w.Subscriptions())
		w.HandleMessage(other.New(nil))
		assert.Equal(t, 1, seen)
	})

	t.Run("WildcardWithDedicatedHandler", func(t *testing.T) {
		m, def := newTestManager(t)
		dedicated, fallback := 0, 0
		both := NewActor().
			Handle("Test", func(*Message) bool {
				dedicated++
				return true
			}).
			Handle(Wildcard, func(*Message) bool {
				fallback++
				return false
			})
		_, err := m.RegisterReceiver(both, "")
		require.NoError(t, err)

		mustQueue(t, m, def.New(map[string]any{"name": "x"}))
		mustQueue(t, m, other.New(nil))
		_, err = m.Tick(0)
		require.NoError(t, err)
		assert.Equal(t, 1, dedicated)
		assert.Equal(t, 1, fallback)

		assert.True(t, m.Trigger(def.New(map[string]any{"name": "y"})))
		assert.Equal(t, 2, dedicated)
		assert.Equal(t, 1, fallback)
	})

	t.Run("Update", func(t *testing.T) {
		n := 0
		u := NewActor().OnUpdate(func() { n++ })
		u.Update()
		u.Update()
		assert.Equal(t, 2, n)
		NewActor().Update()
	})

	t.Run("Registered", func(t *testing.T) {
		m := NewManager(Options{})
		defer m.Reset()
		id, err := m.RegisterReceiver(a, "")
		require.NoError(t, err)
		assert.Equal(t, id, a.ID())

		mustQueue(t, m, damage.New(map[string]any{"damageAmount": 2}, WithReceiver(id)))
		_, err = m.Tick(0)
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
	})
}
