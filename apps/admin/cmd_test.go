package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/reconcile"
	"github.com/trezcool/lms/core/user"
	"github.com/trezcool/lms/storage/database"
	"github.com/trezcool/lms/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()
	conf := &core.Config{
		Env:      "TEST",
		TestMode: true,
		Sweep:    core.SweepConfig{StaleAfter: 10 * time.Minute, MaxAttempts: 3},
	}
	var out bytes.Buffer
	cli := newCommandLine(conf, database.NewInmemStores(), testutil.NewLogger())
	cli.out = &out
	return cli, &out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantAnyErr bool
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Equal(t, tt.wantErrStr, err.Error())
				}
			case tt.wantAnyErr:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_run(t *testing.T) {
	cli, _ := setup(t)

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	})
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	t.Run("not postgres", func(t *testing.T) {
		assert.ErrorIs(t, cli.run([]string{"admin", "migrate", "up"}), errNoSQLDatabase)
	})

	cli.db = new(sql.DB) // never used by the mock below
	origRunFunc := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = origRunFunc })

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		if _, err := fs.Stat(fsys, dir+"/00003_create_purchases.sql"); err != nil {
			return err
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "refunds", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	})
}

func Test_commandLine_addUser(t *testing.T) {
	cli, _ := setup(t)
	testutil.CreateUser(t, cli.stores.Users, "taken", "Taken")

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no name", args: []string{"adduser", "-id", "u1"}, wantErr: errHelp},
		{name: "bad id", args: []string{"adduser", "-id", "u 1", "-name", "User"}, wantAnyErr: true},
		{name: "bad role", args: []string{"adduser", "-id", "u1", "-name", "User", "-roles", "wizard"}, wantAnyErr: true},
		{name: "create", args: []string{"adduser", "-id", "u1", "-name", "User One", "-email", "U1@Test.cd", "-roles", "student"}},
		{name: "duplicate email", args: []string{"adduser", "-id", "u2", "-name", "User Two", "-email", "taken@test.cd"}, wantErr: user.ErrUserExists},
		{name: "update", args: []string{"adduser", "-id", "u1", "-name", "User Uno", "-email", "u1@test.cd", "-roles", "student,ADMIN"}},
	})

	usr, err := cli.stores.Users.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "User Uno", usr.Name)
	assert.Equal(t, "u1@test.cd", usr.Email)
	assert.Equal(t, []user.Role{user.RoleStudent, user.RoleAdmin}, usr.Roles)
}

func Test_commandLine_addCourse(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"addcourse"}, wantErr: errHelp},
		{name: "no educator", args: []string{"addcourse", "-title", "Go 101"}, wantErr: errHelp},
		{name: "bad price", args: []string{"addcourse", "-title", "Go 101", "-educator", "e1", "-price", "lol"}, wantErrStr: "price: price must be a number"},
		{name: "negative price", args: []string{"addcourse", "-title", "Go 101", "-educator", "e1", "-price", "-1"}, wantErrStr: "price: price cannot be negative"},
		{name: "create", args: []string{"addcourse", "-id", "c1", "-title", "Go 101", "-educator", "e1", "-price", "49.99", "-publish"}},
	})

	crs, err := cli.stores.Courses.GetCourse(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Go 101", crs.Title)
	assert.Equal(t, "49.99", crs.Price.String())
	assert.True(t, crs.IsPublished)
	assert.Contains(t, out.String(), "created course c1 (Go 101)")
}

func Test_commandLine_sweep(t *testing.T) {
	cli, out := setup(t)
	usr := testutil.CreateUser(t, cli.stores.Users, "u1", "User One")
	crs := testutil.CreateCourse(t, cli.stores.Courses, "c1", "Go 101", 50)
	stale := testutil.CreatePurchase(t, cli.stores.Purchases, usr.ID, crs.ID, purchase.StatusPending, time.Now().Add(-11*time.Minute))
	dangling := testutil.CreatePurchase(t, cli.stores.Purchases, "ghost", crs.ID, purchase.StatusPending, time.Now().Add(-20*time.Minute))

	require.NoError(t, cli.run([]string{"admin", "sweep"}))

	var report reconcile.SweepReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, reconcile.SweepReport{Scanned: 2, Completed: 1, Failed: 1}, report)

	p, err := cli.stores.Purchases.GetPurchase(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusCompleted, p.Status)

	p, err = cli.stores.Purchases.GetPurchase(context.Background(), dangling.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusFailed, p.Status)
}
