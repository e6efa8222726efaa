package session_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajaxzhan/agentsh/internal/session"
	"github.com/ajaxzhan/agentsh/pkg/types"
)

func TestManager_CreateExecClose(t *testing.T) {
	m := session.NewManager()
	t.Cleanup(m.CloseAll)

	info, err := m.Create("s1", "")
	require.NoError(t, err)
	assert.Equal(t, "s1", info.ID)
	assert.True(t, info.Alive)

	result, err := m.Exec("s1", "echo managed", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, strings.Join(result.Lines, "\n"), "managed")

	require.NoError(t, m.Close("s1"))
	assert.Empty(t, m.List())
}

func TestManager_StatePersistsAcrossExecs(t *testing.T) {
	m := session.NewManager()
	t.Cleanup(m.CloseAll)

	_, err := m.Create("s", "")
	require.NoError(t, err)

	_, err = m.Exec("s", "export X=1", 10, 0)
	require.NoError(t, err)

	result, err := m.Exec("s", "echo $X", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, strings.Join(result.Lines, "\n"), "1")
}

func TestManager_DuplicateIDRejected(t *testing.T) {
	m := session.NewManager()
	t.Cleanup(m.CloseAll)

	_, err := m.Create("dup", "")
	require.NoError(t, err)

	_, err = m.Create("dup", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDuplicateID)
}

func TestManager_SessionCap(t *testing.T) {
	m := session.NewManager()
	t.Cleanup(m.CloseAll)

	for i := 0; i < 10; i++ {
		_, err := m.Create(fmt.Sprintf("s%d", i), "")
		require.NoError(t, err)
	}

	// The 11th create is rejected.
	_, err := m.Create("s10", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTooManySessions)

	// Closing one frees a slot.
	require.NoError(t, m.Close("s0"))
	_, err = m.Create("s10", "")
	assert.NoError(t, err)
}

func TestManager_ExecUnknownSession(t *testing.T) {
	m := session.NewManager()
	_, err := m.Exec("ghost", "echo hi", 10, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestManager_CloseUnknownSession(t *testing.T) {
	m := session.NewManager()
	assert.ErrorIs(t, m.Close("ghost"), types.ErrNotFound)
}

func TestManager_List(t *testing.T) {
	m := session.NewManager()
	t.Cleanup(m.CloseAll)

	_, err := m.Create("a", "")
	require.NoError(t, err)
	_, err = m.Create("b", "")
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.True(t, info.Alive)
	}
}

func TestManager_DeadSessionRejected(t *testing.T) {
	m := session.NewManager()
	t.Cleanup(m.CloseAll)

	_, err := m.Create("doomed", "")
	require.NoError(t, err)

	// Kill the shell out from under the manager.
	_, err = m.Exec("doomed", "kill -9 $$", 10, 0)
	// The wrapper's end marker may never arrive; either outcome is fine
	// as long as the next exec reports the session dead.
	_ = err

	waitForDead(t, m, "doomed")

	_, err = m.Exec("doomed", "echo hi", 10, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSessionDead)
}

func waitForDead(t *testing.T, m *session.Manager, id string) {
	t.Helper()
	for i := 0; i < 100; i++ {
		for _, info := range m.List() {
			if info.ID == id && !info.Alive {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("session never died")
}

func TestManager_Send(t *testing.T) {
	m := session.NewManager()
	t.Cleanup(m.CloseAll)

	_, err := m.Create("raw", "")
	require.NoError(t, err)

	result, err := m.Send("raw", `echo from_send\n`, 1)
	require.NoError(t, err)
	assert.Equal(t, "raw", result.SessionID)
	assert.Contains(t, strings.Join(result.Lines, "\n"), "from_send")
}
