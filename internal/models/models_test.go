package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_Transitions(t *testing.T) {
	allowed := map[[2]TaskStatus]bool{
		{TaskPending, TaskProcessing}:   true,
		{TaskPending, TaskStopped}:      true,
		{TaskProcessing, TaskCompleted}: true,
		{TaskProcessing, TaskFailed}:    true,
		{TaskProcessing, TaskStopped}:   true,
	}

	for _, from := range AllTaskStatuses {
		for _, to := range AllTaskStatuses {
			want := allowed[[2]TaskStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
	assert.True(t, TaskStopped.IsTerminal())
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskProcessing.IsTerminal())
}

func TestTransitionSources(t *testing.T) {
	assert.Equal(t, []TaskStatus{TaskPending, TaskProcessing}, TransitionSources(TaskStopped))
	assert.Equal(t, []TaskStatus{TaskPending}, TransitionSources(TaskProcessing))
	assert.Equal(t, []TaskStatus{TaskProcessing}, TransitionSources(TaskFailed))
	assert.Empty(t, TransitionSources(TaskPending))
}

func TestParseTaskStatus(t *testing.T) {
	for _, s := range AllTaskStatuses {
		got, err := ParseTaskStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseTaskStatus("pending")
	assert.Error(t, err)
	_, err = ParseTaskStatus("")
	assert.Error(t, err)
}

func TestAccount_Platforms(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		want    []string
	}{
		{"csv", Account{PlatformsCSV: "tiktok,instagram,facebook"}, []string{"tiktok", "instagram", "facebook"}},
		{"single", Account{Platform: "youtube"}, []string{"youtube"}},
		{"csv wins", Account{Platform: "youtube", PlatformsCSV: "tiktok"}, []string{"tiktok"}},
		{"whitespace and case", Account{PlatformsCSV: " TikTok , , Instagram "}, []string{"tiktok", "instagram"}},
		{"duplicates", Account{PlatformsCSV: "tiktok,tiktok,youtube"}, []string{"tiktok", "youtube"}},
		{"unknown dropped", Account{PlatformsCSV: "myspace,youtube"}, []string{"youtube"}},
		{"empty", Account{}, []string{}},
		{"garbage", Account{PlatformsCSV: ";;;"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.account.Platforms())
		})
	}
}

func TestHandle_Split(t *testing.T) {
	h := NewHandle("automation", "abc-123")
	q, id, err := h.Split()
	require.NoError(t, err)
	assert.Equal(t, "automation", q)
	assert.Equal(t, "abc-123", id)

	_, _, err = Handle("no-separator").Split()
	assert.Error(t, err)
	_, _, err = Handle(":id").Split()
	assert.Error(t, err)
}

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "Jane", (&User{FullName: "Jane", Email: "j@example.com"}).DisplayName())
	assert.Equal(t, "j@example.com", (&User{Email: "j@example.com"}).DisplayName())
}
