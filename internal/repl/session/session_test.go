package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_UseAndHistory(t *testing.T) {
	s := NewSession()
	assert.Empty(t, s.Current())

	s.Use("products")
	s.AddHistory(`[{"$limit": 1}]`)
	assert.Equal(t, "products", s.Current())
	assert.Equal(t, []string{`[{"$limit": 1}]`}, s.Entries())
}

func TestSession_HistoryBounded(t *testing.T) {
	s := NewSession()
	for i := 0; i < maxHistory+10; i++ {
		s.AddHistory("x")
	}
	assert.Len(t, s.Entries(), maxHistory)
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(time.Hour, time.Hour)
	s := m.Create()
	require.NotNil(t, m.Get(s.ID))
	assert.Equal(t, 1, m.Len())

	m.Remove(s.ID)
	assert.Nil(t, m.Get(s.ID))
}

func TestManager_ExpiresIdle(t *testing.T) {
	m := NewManager(time.Hour, time.Millisecond)
	s := m.Create()
	time.Sleep(5 * time.Millisecond)
	assert.Nil(t, m.Get(s.ID))

	m.Create()
	time.Sleep(5 * time.Millisecond)
	m.Cleanup()
	assert.Equal(t, 0, m.Len())
}
