package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/lms/core/reconcile"
	"github.com/trezcool/lms/storage/database"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db       *sql.DB // postgres only
	stores   *database.Stores
	validate *validator.Validate
	sweeper  *reconcile.Sweeper
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (postgres only)")
	fmt.Fprintln(cli.out, "  sweep - reconcile the purchases pending for too long, once")
	fmt.Fprintln(cli.out, "  adduser -id ID -name NAME [-email EMAIL] [-roles student,educator,admin] - mirror a user")
	fmt.Fprintln(cli.out, "  addcourse -id ID -title TITLE -educator ID [-price PRICE] [-publish] - add a course")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserID := addUserCmd.String("id", "", "The user's id at the identity provider.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRoles := addUserCmd.String("roles", "", "Comma-separated roles.")

	addCourseCmd := flag.NewFlagSet("addcourse", flag.ContinueOnError)
	addCourseID := addCourseCmd.String("id", "", "The course id (generated when empty).")
	addCourseTitle := addCourseCmd.String("title", "", "The course title.")
	addCourseEducator := addCourseCmd.String("educator", "", "The educator's user id.")
	addCoursePrice := addCourseCmd.String("price", "0", "The course price.")
	addCoursePublish := addCourseCmd.Bool("publish", false, "Open the course for purchase.")

	for _, fs := range []*flag.FlagSet{addUserCmd, addCourseCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "sweep":
		return cli.sweep()
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserID == "" || *addUserName == "" {
			addUserCmd.Usage()
			return errHelp
		}
		var roles []string
		if *addUserRoles != "" {
			roles = strings.Split(*addUserRoles, ",")
		}
		return cli.addUser(*addUserID, *addUserName, *addUserEmail, roles)
	case "addcourse":
		if err := addCourseCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addCourseTitle == "" || *addCourseEducator == "" {
			addCourseCmd.Usage()
			return errHelp
		}
		return cli.addCourse(*addCourseID, *addCourseTitle, *addCourseEducator, *addCoursePrice, *addCoursePublish)
	default:
		cli.printUsage()
		return errHelp
	}
}
