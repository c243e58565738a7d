package store

import (
	"context"
	"testing"

	"github.com/soyeahso/codexm/internal/domain"
	"github.com/soyeahso/codexm/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(testDB(t))
}

func testWorkspace(t *testing.T, s *Store, name string) *domain.Workspace {
	t.Helper()
	w, err := s.Workspaces.Create(context.Background(), domain.Workspace{Name: name, Path: "/tmp/" + name})
	require.NoError(t, err)
	return w
}

func msg(sess *domain.Session, role domain.Role, content string) domain.ChatMessage {
	return domain.ChatMessage{SessionID: sess.ID, WorkspaceID: sess.WorkspaceID, Role: role, Content: content}
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
}

func TestOpen_File(t *testing.T) {
	path := t.TempDir() + "/nested/codexm.db"
	db, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	err := db.migrate()
	require.NoError(t, err)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"workspaces", "sessions", "messages", "mcp_servers", "messages_fts"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- Workspace tests ---

func TestWorkspaceStore_CreateAndResolve(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	w := testWorkspace(t, s, "app")
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, domain.SyncNone, w.SyncKind)

	byName, err := s.Workspaces.Resolve(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, w.ID, byName.ID)

	byID, err := s.Workspaces.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/app", byID.Path)

	_, err = s.Workspaces.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkspaceStore_GitSync(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	w, err := s.Workspaces.Create(ctx, domain.Workspace{
		Name:     "site",
		Path:     "/tmp/site",
		SyncKind: domain.SyncGit,
		Remote:   "https://git.example.com/site.git",
		Git:      domain.GitSync{Branch: "main", Username: "ada", Token: "${SITE_TOKEN}"},
	})
	require.NoError(t, err)

	got, err := s.Workspaces.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GitSync{Branch: "main", Username: "ada", Token: "${SITE_TOKEN}"}, got.Git)

	updated := domain.GitSync{
		Branch:        "release",
		AllowInsecure: true,
		AuthorName:    "Ada",
		AuthorEmail:   "ada@example.com",
	}
	require.NoError(t, s.Workspaces.SetGitSync(ctx, w.ID, updated))
	got, err = s.Workspaces.Resolve(ctx, "site")
	require.NoError(t, err)
	assert.Equal(t, updated, got.Git)

	assert.ErrorIs(t, s.Workspaces.SetGitSync(ctx, "missing", updated), ErrNotFound)
}

func TestWorkspaceStore_Validation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Workspaces.Create(ctx, domain.Workspace{Path: "/x"})
	assert.Error(t, err)
	_, err = s.Workspaces.Create(ctx, domain.Workspace{Name: "x"})
	assert.Error(t, err)

	testWorkspace(t, s, "dup")
	_, err = s.Workspaces.Create(ctx, domain.Workspace{Name: "dup", Path: "/y"})
	assert.Error(t, err, "names are unique")
}

func TestWorkspaceStore_DeleteCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	w := testWorkspace(t, s, "gone")
	sess, err := s.Sessions.Create(ctx, w.ID, "chat")
	require.NoError(t, err)
	require.NoError(t, s.Sessions.AppendPair(ctx, msg(sess, domain.RoleUser, "q"), msg(sess, domain.RoleAssistant, "a")))

	require.NoError(t, s.Workspaces.Delete(ctx, w.ID))
	_, err = s.Sessions.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := s.Sessions.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.Workspaces.Delete(ctx, w.ID), ErrNotFound)
}

// --- Session tests ---

func TestSessionStore_CreateGetList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	w := testWorkspace(t, s, "app")
	other := testWorkspace(t, s, "other")

	first, err := s.Sessions.Create(ctx, w.ID, "first")
	require.NoError(t, err)
	second, err := s.Sessions.Create(ctx, w.ID, "second")
	require.NoError(t, err)
	_, err = s.Sessions.Create(ctx, other.ID, "elsewhere")
	require.NoError(t, err)

	got, err := s.Sessions.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
	assert.Empty(t, got.ThreadID)
	assert.Nil(t, got.ToolServers)

	list, err := s.Sessions.List(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "most recently updated first")

	all, err := s.Sessions.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSessionStore_Mutations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	w := testWorkspace(t, s, "app")
	sess, err := s.Sessions.Create(ctx, w.ID, "")
	require.NoError(t, err)

	require.NoError(t, s.Sessions.Rename(ctx, sess.ID, "renamed"))
	require.NoError(t, s.Sessions.SetMode(ctx, sess.ID, domain.ModePlan))
	require.NoError(t, s.Sessions.BindThread(ctx, sess.ID, "thr-1"))
	require.NoError(t, s.Sessions.SetToolServers(ctx, sess.ID, []string{"m1", "m2"}))

	got, err := s.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, domain.ModePlan, got.Mode)
	assert.Equal(t, "thr-1", got.ThreadID)
	assert.Equal(t, []string{"m1", "m2"}, got.ToolServers)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))

	assert.ErrorIs(t, s.Sessions.Rename(ctx, "nope", "x"), ErrNotFound)
	assert.ErrorIs(t, s.Sessions.BindThread(ctx, "nope", "x"), ErrNotFound)
}

func TestSessionStore_AppendPairOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	w := testWorkspace(t, s, "app")
	sess, err := s.Sessions.Create(ctx, w.ID, "chat")
	require.NoError(t, err)

	require.NoError(t, s.Sessions.AppendPair(ctx, msg(sess, domain.RoleUser, "one"), msg(sess, domain.RoleAssistant, "two")))
	require.NoError(t, s.Sessions.AppendPair(ctx, msg(sess, domain.RoleUser, "/status"), msg(sess, domain.RoleSystem, "three")))

	msgs, err := s.Sessions.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
		assert.NotEmpty(t, m.ID)
		assert.Equal(t, w.ID, m.WorkspaceID)
	}
	assert.Equal(t, []string{"one", "two", "/status", "three"}, contents)
	assert.Equal(t, domain.RoleSystem, msgs[3].Role)
}

func TestSessionStore_AppendPairIsAtomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	w := testWorkspace(t, s, "app")
	sess, err := s.Sessions.Create(ctx, w.ID, "chat")
	require.NoError(t, err)

	bad := msg(sess, "robot", "invalid role")
	err = s.Sessions.AppendPair(ctx, msg(sess, domain.RoleUser, "q"), bad)
	require.Error(t, err)

	msgs, err := s.Sessions.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "a failed pair writes nothing")

	other := &domain.Session{ID: "x"}
	assert.Error(t, s.Sessions.AppendPair(ctx, msg(sess, domain.RoleUser, "q"), msg(other, domain.RoleAssistant, "a")))
}

func TestSessionStore_Fork(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	w := testWorkspace(t, s, "app")
	src, err := s.Sessions.Create(ctx, w.ID, "source")
	require.NoError(t, err)
	require.NoError(t, s.Sessions.SetMode(ctx, src.ID, domain.ModePlan))
	require.NoError(t, s.Sessions.SetToolServers(ctx, src.ID, []string{"m1"}))
	require.NoError(t, s.Sessions.BindThread(ctx, src.ID, "old-thread"))
	require.NoError(t, s.Sessions.AppendPair(ctx, msg(src, domain.RoleUser, "q1"), msg(src, domain.RoleAssistant, "a1")))
	src, err = s.Sessions.Get(ctx, src.ID)
	require.NoError(t, err)

	fork, err := s.Sessions.Fork(ctx, src, "abc123", "source (fork)")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, fork.ID)

	got, err := s.Sessions.Get(ctx, fork.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.ThreadID)
	assert.Equal(t, domain.ModePlan, got.Mode)
	assert.Equal(t, []string{"m1"}, got.ToolServers)
	assert.Equal(t, w.ID, got.WorkspaceID)

	srcMsgs, _ := s.Sessions.Messages(ctx, src.ID)
	forkMsgs, err := s.Sessions.Messages(ctx, fork.ID)
	require.NoError(t, err)
	require.Len(t, forkMsgs, len(srcMsgs))
	for i := range srcMsgs {
		assert.Equal(t, srcMsgs[i].Content, forkMsgs[i].Content)
		assert.Equal(t, srcMsgs[i].Role, forkMsgs[i].Role)
		assert.NotEqual(t, srcMsgs[i].ID, forkMsgs[i].ID)
		assert.Equal(t, fork.ID, forkMsgs[i].SessionID)
	}

	// The logs diverge after the fork.
	require.NoError(t, s.Sessions.AppendPair(ctx, msg(fork, domain.RoleUser, "only in fork"), msg(fork, domain.RoleAssistant, "ok")))
	srcMsgs, _ = s.Sessions.Messages(ctx, src.ID)
	assert.Len(t, srcMsgs, 2)
	orig, _ := s.Sessions.Get(ctx, src.ID)
	assert.Equal(t, "old-thread", orig.ThreadID)
}

func TestSessionStore_DeleteRemovesLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	w := testWorkspace(t, s, "app")
	sess, err := s.Sessions.Create(ctx, w.ID, "chat")
	require.NoError(t, err)
	require.NoError(t, s.Sessions.AppendPair(ctx, msg(sess, domain.RoleUser, "q"), msg(sess, domain.RoleAssistant, "a")))

	require.NoError(t, s.Sessions.Delete(ctx, sess.ID))
	msgs, err := s.Sessions.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.ErrorIs(t, s.Sessions.Delete(ctx, sess.ID), ErrNotFound)
}

func TestSessionStore_Search(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	w := testWorkspace(t, s, "app")
	a, _ := s.Sessions.Create(ctx, w.ID, "a")
	b, _ := s.Sessions.Create(ctx, w.ID, "b")
	require.NoError(t, s.Sessions.AppendPair(ctx, msg(a, domain.RoleUser, "how do goroutines leak"), msg(a, domain.RoleAssistant, "blocked channel sends")))
	require.NoError(t, s.Sessions.AppendPair(ctx, msg(b, domain.RoleUser, "sqlite WAL mode"), msg(b, domain.RoleAssistant, "readers do not block writers")))

	hits, err := s.Sessions.Search(ctx, "goroutines", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].SessionID)
	assert.Equal(t, domain.RoleUser, hits[0].Role)
	assert.Contains(t, hits[0].Snippet, "[goroutines]")

	hits, err = s.Sessions.Search(ctx, `AND "leak`, 0)
	require.NoError(t, err, "user input is quoted")
	assert.Empty(t, hits)

	hits, err = s.Sessions.Search(ctx, "  ", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Sessions.Delete(ctx, b.ID))
	hits, err = s.Sessions.Search(ctx, "writers", 0)
	require.NoError(t, err)
	assert.Empty(t, hits, "deleted messages leave the index")
}

// --- MCP tests ---

func TestMCPStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	files, err := s.MCPServers.Create(ctx, domain.MCPServer{
		Name: "files", Transport: domain.MCPStdio, Command: "mcp-files",
		Args: []string{"--root", "/"}, Env: map[string]string{"DEBUG": "1"},
	})
	require.NoError(t, err)
	remote, err := s.MCPServers.Create(ctx, domain.MCPServer{Name: "remote", Transport: domain.MCPSSE, URL: "http://x/sse"})
	require.NoError(t, err)

	got, err := s.MCPServers.Resolve(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, []string{"--root", "/"}, got.Args)
	assert.Equal(t, map[string]string{"DEBUG": "1"}, got.Env)

	list, err := s.MCPServers.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "files", list[0].Name)
	assert.Nil(t, list[1].Args)

	picked, err := s.MCPServers.Lookup(ctx, []string{remote.ID, "unknown", files.ID})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "remote", picked[0].Name)
	assert.Equal(t, "files", picked[1].Name)

	require.NoError(t, s.MCPServers.Delete(ctx, files.ID))
	_, err = s.MCPServers.Resolve(ctx, files.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.MCPServers.Delete(ctx, files.ID), ErrNotFound)
}
