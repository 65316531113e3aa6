package roles

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/access-control-plane/internal/state"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services"
	"github.com/upb/access-control-plane/services/audit"
	"github.com/upb/access-control-plane/services/coordinator"
	"github.com/upb/access-control-plane/services/users"
	"go.uber.org/zap"
)

const actor = "admin"

func setupServices(t *testing.T) (*RoleService, *users.UserService, *coordinator.Coordinator) {
	t.Helper()
	logger := zap.NewNop()
	coord := coordinator.New(state.NewStore(nil), audit.NewTrail(), logger, coordinator.Options{
		LockTimeout: time.Second,
	})
	return NewRoleService(coord, logger), users.NewUserService(coord, logger), coord
}

func TestRoleService_CreateAndGet(t *testing.T) {
	svc, _, coord := setupServices(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, actor, "  Editor ", "edits content", models.Grants{
		models.ResourceUsers:    {models.PermissionWrite, models.PermissionRead, models.PermissionRead},
		models.ResourceSettings: {},
	})
	require.NoError(t, err)
	assert.Equal(t, "Editor", role.Name)
	assert.Equal(t, int64(1), role.Version)
	assert.NotEqual(t, uuid.Nil, role.ID)

	got, err := svc.GetRole(role.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Grants{
		models.ResourceUsers: {models.PermissionRead, models.PermissionWrite},
	}, got.Grants)
	_, hasSettings := got.Grants[models.ResourceSettings]
	assert.False(t, hasSettings)

	entries := coord.Trail().List(audit.Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionCreated, entries[0].Action)
	assert.Equal(t, int64(0), entries[0].BeforeVersion)
	assert.Equal(t, int64(1), entries[0].AfterVersion)
	assert.Equal(t, actor, entries[0].ActorID)
}

func TestRoleService_ReturnedRecordsAreCopies(t *testing.T) {
	svc, _, _ := setupServices(t)
	role, err := svc.CreateRole(context.Background(), actor, "Viewer", "", models.Grants{
		models.ResourceReports: {models.PermissionRead},
	})
	require.NoError(t, err)

	role.Grants[models.ResourceReports] = append(role.Grants[models.ResourceReports], models.PermissionManage)
	role.Name = "Hacked"

	got, err := svc.GetRole(role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Viewer", got.Name)
	assert.Equal(t, []models.Permission{models.PermissionRead}, got.Grants[models.ResourceReports])
}

func TestRoleService_CreateErrors(t *testing.T) {
	svc, _, _ := setupServices(t)
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, actor, "Editor", "", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		role   string
		grants models.Grants
		check  func(error) bool
	}{
		{"duplicate name ignores case", "EDITOR", nil, services.IsDuplicateNameError},
		{"empty name", "   ", nil, services.IsValidationError},
		{"unknown permission", "Writer", models.Grants{models.ResourceUsers: {"fly"}}, services.IsInvalidValueError},
		{"unknown resource", "Writer", models.Grants{"billing": {models.PermissionRead}}, services.IsInvalidValueError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRole(ctx, actor, tt.role, "", tt.grants)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	assert.Len(t, svc.ListRoles(), 1)
}

func TestRoleService_Update(t *testing.T) {
	svc, _, _ := setupServices(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, actor, "Editor", "old", models.Grants{
		models.ResourceUsers: {models.PermissionRead},
	})
	require.NoError(t, err)
	other, err := svc.CreateRole(ctx, actor, "Viewer", "", nil)
	require.NoError(t, err)

	t.Run("description only keeps grants", func(t *testing.T) {
		desc := "new"
		updated, err := svc.UpdateRole(ctx, actor, role.ID, RolePatch{Description: &desc}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, "new", updated.Description)
		assert.True(t, updated.Grants.Has(models.ResourceUsers, models.PermissionRead))
	})

	t.Run("stale version", func(t *testing.T) {
		desc := "again"
		_, err := svc.UpdateRole(ctx, actor, role.ID, RolePatch{Description: &desc}, 1)
		require.Error(t, err)
		assert.True(t, services.IsVersionConflictError(err))
		details := services.GetErrorDetails(err)
		assert.Equal(t, int64(2), details["current_version"])
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := svc.UpdateRole(ctx, actor, uuid.New(), RolePatch{}, 1)
		assert.True(t, services.IsNotFoundError(err))
	})

	t.Run("rename onto another role", func(t *testing.T) {
		name := "viewer"
		_, err := svc.UpdateRole(ctx, actor, role.ID, RolePatch{Name: &name}, 2)
		assert.True(t, services.IsDuplicateNameError(err))
	})

	t.Run("rename changing only case", func(t *testing.T) {
		name := "EDITOR"
		updated, err := svc.UpdateRole(ctx, actor, role.ID, RolePatch{Name: &name}, 2)
		require.NoError(t, err)
		assert.Equal(t, "EDITOR", updated.Name)
	})

	t.Run("empty grants clear every resource", func(t *testing.T) {
		updated, err := svc.UpdateRole(ctx, actor, role.ID, RolePatch{Grants: models.Grants{}}, 3)
		require.NoError(t, err)
		assert.Empty(t, updated.Grants)
	})

	t.Run("invalid grants", func(t *testing.T) {
		_, err := svc.UpdateRole(ctx, actor, other.ID, RolePatch{Grants: models.Grants{models.ResourceRoles: {"own"}}}, 1)
		assert.True(t, services.IsInvalidValueError(err))
	})

	t.Run("blank name", func(t *testing.T) {
		name := " "
		_, err := svc.UpdateRole(ctx, actor, other.ID, RolePatch{Name: &name}, 1)
		assert.True(t, services.IsValidationError(err))
	})
}

func TestRoleService_DeleteBlockedWhileReferenced(t *testing.T) {
	svc, userSvc, coord := setupServices(t)
	ctx := context.Background()

	editor, err := svc.CreateRole(ctx, actor, "Editor", "", nil)
	require.NoError(t, err)
	viewer, err := svc.CreateRole(ctx, actor, "Viewer", "", nil)
	require.NoError(t, err)
	jane, err := userSvc.CreateUser(ctx, actor, "Jane", "jane@example.com", editor.ID, true)
	require.NoError(t, err)

	err = svc.DeleteRole(ctx, actor, editor.ID, 1)
	require.Error(t, err)
	assert.True(t, services.IsReferencedByUserError(err))

	_, err = userSvc.UpdateUser(ctx, actor, jane.ID, users.UserPatch{RoleID: &viewer.ID}, jane.Version)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRole(ctx, actor, editor.ID, 1))
	_, err = svc.GetRole(editor.ID)
	assert.True(t, services.IsNotFoundError(err))

	last := coord.Trail().List(audit.Filter{EntityID: &editor.ID})
	require.Len(t, last, 2)
	assert.Equal(t, models.AuditActionDeleted, last[1].Action)
	assert.Equal(t, int64(1), last[1].BeforeVersion)
	assert.Equal(t, int64(0), last[1].AfterVersion)
}

func TestRoleService_DeleteErrors(t *testing.T) {
	svc, _, _ := setupServices(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, actor, "Editor", "", nil)
	require.NoError(t, err)

	err = svc.DeleteRole(ctx, actor, uuid.New(), 1)
	assert.True(t, services.IsNotFoundError(err))

	err = svc.DeleteRole(ctx, actor, role.ID, 7)
	assert.True(t, services.IsVersionConflictError(err))
}

func TestRoleService_ConcurrentStaleUpdates(t *testing.T) {
	svc, _, _ := setupServices(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, actor, "Editor", "", nil)
	require.NoError(t, err)

	const writers = 2
	errs := make([]error, writers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			desc := "writer"
			_, errs[i] = svc.UpdateRole(ctx, actor, role.ID, RolePatch{Description: &desc}, role.Version)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case services.IsVersionConflictError(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)

	got, err := svc.GetRole(role.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestRoleService_TimeoutHasNoEffect(t *testing.T) {
	svc, _, coord := setupServices(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, actor, "Editor", "", nil)
	require.NoError(t, err)

	// hold ownership of the role from another writer
	entered := make(chan struct{})
	unblock := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = coord.Execute(context.Background(), actor, coordinator.Mutation{
			Entity: models.EntityTypeRole,
			Action: models.AuditActionUpdated,
			Keys:   []string{coordinator.RoleKey(role.ID)},
			Prepare: func(*state.Snapshot, time.Time) (*coordinator.Change, error) {
				close(entered)
				<-unblock
				return nil, nil
			},
		})
	}()
	<-entered

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	desc := "late"
	_, err = svc.UpdateRole(timeoutCtx, actor, role.ID, RolePatch{Description: &desc}, 1)
	require.Error(t, err)
	assert.True(t, services.IsTimeoutError(err))

	close(unblock)
	<-done

	got, err := svc.GetRole(role.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "", got.Description)
	assert.Equal(t, 1, coord.Trail().Len())
}

func TestRoleService_ListInCreationOrder(t *testing.T) {
	svc, _, _ := setupServices(t)
	ctx := context.Background()

	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		_, err := svc.CreateRole(ctx, actor, name, "", nil)
		require.NoError(t, err)
	}

	roles := svc.ListRoles()
	require.Len(t, roles, 3)
	assert.Equal(t, "Zeta", roles[0].Name)
	assert.Equal(t, "Alpha", roles[1].Name)
	assert.Equal(t, "Mid", roles[2].Name)
}

func TestRoleService_DeleteRacingUserCreate(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		svc, userSvc, coord := setupServices(t)

		role, err := svc.CreateRole(ctx, actor, "Editor", "", nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var createErr, deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, createErr = userSvc.CreateUser(ctx, actor, "Jane", "jane@example.com", role.ID, true)
		}()
		go func() {
			defer wg.Done()
			deleteErr = svc.DeleteRole(ctx, actor, role.ID, 1)
		}()
		wg.Wait()

		// exactly one side wins and the loser reports why
		if createErr == nil {
			require.Error(t, deleteErr)
			assert.True(t, services.IsReferencedByUserError(deleteErr))
		} else {
			require.NoError(t, deleteErr)
			assert.True(t, services.IsRoleNotFoundError(createErr))
		}

		snap := coord.Snapshot()
		for _, u := range snap.Users() {
			_, ok := snap.Role(u.RoleID)
			assert.True(t, ok, "user %s references a missing role", u.ID)
		}
	}
}

func TestRoleService_ConcurrentCreatesWithFoldedName(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		svc, _, _ := setupServices(t)

		names := []string{"Dup", "dup ", "DUP"}
		errs := make([]error, len(names))

		var wg sync.WaitGroup
		for j, name := range names {
			wg.Add(1)
			go func(j int, name string) {
				defer wg.Done()
				_, errs[j] = svc.CreateRole(ctx, actor, name, "", nil)
			}(j, name)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, services.IsDuplicateNameError(err))
		}
		assert.Equal(t, 1, succeeded)
		assert.Len(t, svc.ListRoles(), 1)
	}
}
