package teams

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aweist/lab-booking/booking"
	"github.com/aweist/lab-booking/models"
	"github.com/aweist/lab-booking/storage"
	"github.com/aweist/lab-booking/teamcolor"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *teamcolor.Resolver) {
	t.Helper()

	store, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "teams.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	colors := teamcolor.NewResolver(teamcolor.DefaultPalette)
	svc := NewService(ServiceConfig{
		Store:  store,
		Colors: colors,
		Clock:  clockwork.NewFakeClockAt(time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)),
	})
	return svc, colors
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	team, err := svc.Create(ctx, "  第一研究班 ", nil)
	require.NoError(t, err)
	assert.Equal(t, "第一研究班", team.Name)
	require.NotNil(t, team.Color)
	assert.Equal(t, teamcolor.DefaultPalette["第一研究班"], *team.Color)

	custom := models.Color{Fill: "#ffffff", Border: "#eeeeee"}
	other, err := svc.Create(ctx, "分光チーム", &custom)
	require.NoError(t, err)
	assert.Equal(t, custom, *other.Color)

	_, err = svc.Create(ctx, "第一研究班", nil)
	assert.ErrorIs(t, err, storage.ErrTeamExists)

	_, err = svc.Create(ctx, " ", nil)
	assert.ErrorIs(t, err, ErrMissingName)
	assert.ErrorIs(t, err, booking.ErrValidation)

	_, err = svc.Create(ctx, "Evil\r\nBcc: attacker@example.com", nil)
	assert.ErrorIs(t, err, booking.ErrInvalidTeamName)

	bad := "分光\nチーム"
	_, err = svc.Update(ctx, other.ID, UpdateRequest{Name: &bad})
	assert.ErrorIs(t, err, booking.ErrInvalidTeamName)

	found, err := svc.GetByName(ctx, "分光チーム")
	require.NoError(t, err)
	assert.Equal(t, other.ID, found.ID)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestService_RenameKeepsOldColour(t *testing.T) {
	svc, colors := newTestService(t)
	ctx := context.Background()

	team, err := svc.Create(ctx, "旧班", nil)
	require.NoError(t, err)
	original := *team.Color

	newName := "新班"
	renamed, err := svc.Update(ctx, team.ID, UpdateRequest{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "新班", renamed.Name)
	assert.Equal(t, original, *renamed.Color)

	assert.Equal(t, original, colors.Resolve("旧班", nil))
	assert.Equal(t, original, colors.Resolve("新班", nil))

	got, err := svc.Colors(ctx, "旧班", "消えた班")
	require.NoError(t, err)
	assert.Equal(t, original, got["新班"])
	assert.Equal(t, original, got["旧班"])
	assert.Equal(t, teamcolor.Derive("消えた班"), got["消えた班"])
}

func TestService_Recolor(t *testing.T) {
	svc, colors := newTestService(t)
	ctx := context.Background()

	team, err := svc.Create(ctx, "班", nil)
	require.NoError(t, err)

	c := models.Color{Fill: "#101010", Border: "#202020"}
	updated, err := svc.Update(ctx, team.ID, UpdateRequest{Color: &c})
	require.NoError(t, err)
	assert.Equal(t, c, *updated.Color)
	assert.Equal(t, c, colors.Resolve("班", nil))

	blank := ""
	_, err = svc.Update(ctx, team.ID, UpdateRequest{Name: &blank})
	assert.ErrorIs(t, err, ErrMissingName)

	_, err = svc.Update(ctx, "missing", UpdateRequest{Color: &c})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_Members(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	team, err := svc.Create(ctx, "第一研究班", nil)
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, team.ID, "山田 太郎", "")
	assert.ErrorIs(t, err, ErrIncompleteMember)
	_, err = svc.AddMember(ctx, team.ID, "", "24AMJ21")
	assert.ErrorIs(t, err, ErrIncompleteMember)

	team, err = svc.AddMember(ctx, team.ID, "山田 太郎", "24AMJ21")
	require.NoError(t, err)
	team, err = svc.AddMember(ctx, team.ID, "佐藤 花子", "24AMJ22")
	require.NoError(t, err)
	require.Len(t, team.Members, 2)

	dir, err := svc.Directory(ctx)
	require.NoError(t, err)
	id, ok := dir.StudentID("第一研究班", "佐藤 花子")
	assert.True(t, ok)
	assert.Equal(t, "24AMJ22", id)

	team, err = svc.RemoveMember(ctx, team.ID, team.Members[0].ID)
	require.NoError(t, err)
	require.Len(t, team.Members, 1)
	assert.Equal(t, "佐藤 花子", team.Members[0].Name)

	stored, err := svc.Get(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, team.Members, stored.Members)
}

func TestService_Delete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	team, err := svc.Create(ctx, "班", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, team.ID))
	assert.ErrorIs(t, svc.Delete(ctx, team.ID), storage.ErrNotFound)
}

func TestService_RebuildColors(t *testing.T) {
	svc, colors := newTestService(t)
	ctx := context.Background()

	c := models.Color{Fill: "#1", Border: "#2"}
	_, err := svc.Create(ctx, "班", &c)
	require.NoError(t, err)

	colors.Reset()
	colors.Resolve("ghost", nil)

	require.NoError(t, svc.RebuildColors(ctx))
	snapshot := colors.Snapshot()
	assert.Equal(t, map[string]models.Color{"班": c}, snapshot)
}

func TestDirectory_StudentID(t *testing.T) {
	dir := NewDirectory([]models.Team{
		{Name: "A", Members: []models.TeamMember{
			{Name: "山田 太郎", StudentID: "24AMJ21"},
			{Name: "no id"},
		}},
		{Name: "B", Members: []models.TeamMember{{Name: "山田 太郎", StudentID: "24BBB01"}}},
	})

	tests := []struct {
		team, name string
		want       string
		ok         bool
	}{
		{"A", "山田 太郎", "24AMJ21", true},
		{"B", "山田 太郎", "24BBB01", true},
		{"A", "臨時 参加", "", false},
		{"A", "no id", "", false},
		{"C", "山田 太郎", "", false},
	}

	for _, tt := range tests {
		id, ok := dir.StudentID(tt.team, tt.name)
		assert.Equal(t, tt.want, id, "%s/%s", tt.team, tt.name)
		assert.Equal(t, tt.ok, ok, "%s/%s", tt.team, tt.name)
	}

	var empty *Directory
	_, ok := empty.StudentID("A", "山田 太郎")
	assert.False(t, ok)
}
