package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/eloschool/backend/core/access"
	identitysvc "github.com/eloschool/backend/services/identity"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db       *sql.DB // nil unless the directory is postgres
	dir      *access.Directory
	requests *access.Requests
	deps     access.ControllerDeps
	tokens   *identitysvc.DevProvider // nil unless identity.provider=dev
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command against the postgres directory")
	fmt.Fprintln(cli.out, "  addschool -id ID -name NAME -url URL -bucket BUCKET -project PROJECT - create or replace a school")
	fmt.Fprintln(cli.out, "  link -user UID -school ID - link a user to a school")
	fmt.Fprintln(cli.out, "  unlink -user UID -school ID - unlink a user from a school")
	fmt.Fprintln(cli.out, "  pending -school ID - list the pending access requests of a school")
	fmt.Fprintln(cli.out, "  approve -user UID -school ID -role ROLE [-by UID] - approve an access request with a school role")
	fmt.Fprintln(cli.out, "  reject -user UID -school ID - reject an access request")
	fmt.Fprintln(cli.out, "  resolve -user UID [-email EMAIL] - print the access a fresh session of the user resolves to")
	fmt.Fprintln(cli.out, "  token -user UID [-email EMAIL] [-name NAME] - mint a dev ID token")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addSchoolCmd := cli.newFlagSet("addschool")
	addSchoolID := addSchoolCmd.String("id", "", "The school id (its key under escolas/).")
	addSchoolName := addSchoolCmd.String("name", "", "The display name.")
	addSchoolURL := addSchoolCmd.String("url", "", "The school's Realtime Database URL.")
	addSchoolBucket := addSchoolCmd.String("bucket", "", "The school's storage bucket.")
	addSchoolProject := addSchoolCmd.String("project", "", "The school's Firebase project id.")

	linkCmd := cli.newFlagSet("link")
	linkUser := linkCmd.String("user", "", "The user's uid.")
	linkSchool := linkCmd.String("school", "", "The school id.")

	unlinkCmd := cli.newFlagSet("unlink")
	unlinkUser := unlinkCmd.String("user", "", "The user's uid.")
	unlinkSchool := unlinkCmd.String("school", "", "The school id.")

	pendingCmd := cli.newFlagSet("pending")
	pendingSchool := pendingCmd.String("school", "", "The school id.")

	approveCmd := cli.newFlagSet("approve")
	approveUser := approveCmd.String("user", "", "The user's uid.")
	approveSchool := approveCmd.String("school", "", "The school id.")
	approveRole := approveCmd.String("role", "", "The school role (coordenador(a), professor(a), pai or secretaria).")
	approveBy := approveCmd.String("by", "admin-cli", "Who approved, recorded on the link.")

	rejectCmd := cli.newFlagSet("reject")
	rejectUser := rejectCmd.String("user", "", "The user's uid.")
	rejectSchool := rejectCmd.String("school", "", "The school id.")

	resolveCmd := cli.newFlagSet("resolve")
	resolveUser := resolveCmd.String("user", "", "The user's uid.")
	resolveEmail := resolveCmd.String("email", "", "The user's email.")

	tokenCmd := cli.newFlagSet("token")
	tokenUser := tokenCmd.String("user", "", "The user's uid.")
	tokenEmail := tokenCmd.String("email", "", "The user's email.")
	tokenName := tokenCmd.String("name", "", "The user's display name.")

	// parse parses the flags of cmd and checks the required ones are set.
	parse := func(cmd *flag.FlagSet, required ...*string) error {
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		for _, v := range required {
			if *v == "" {
				cmd.Usage()
				return errHelp
			}
		}
		return nil
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "addschool":
		if err := parse(addSchoolCmd, addSchoolID, addSchoolURL, addSchoolBucket, addSchoolProject); err != nil {
			return err
		}
		return cli.addSchool(access.Descriptor{
			ID:            *addSchoolID,
			Nome:          *addSchoolName,
			DatabaseURL:   *addSchoolURL,
			StorageBucket: *addSchoolBucket,
			ProjectID:     *addSchoolProject,
		})

	case "link":
		if err := parse(linkCmd, linkUser, linkSchool); err != nil {
			return err
		}
		return cli.link(*linkUser, *linkSchool)

	case "unlink":
		if err := parse(unlinkCmd, unlinkUser, unlinkSchool); err != nil {
			return err
		}
		return cli.unlink(*unlinkUser, *unlinkSchool)

	case "pending":
		if err := parse(pendingCmd, pendingSchool); err != nil {
			return err
		}
		return cli.pending(*pendingSchool)

	case "approve":
		if err := parse(approveCmd, approveUser, approveSchool, approveRole); err != nil {
			return err
		}
		return cli.approve(*approveUser, *approveSchool, *approveRole, *approveBy)

	case "reject":
		if err := parse(rejectCmd, rejectUser, rejectSchool); err != nil {
			return err
		}
		return cli.reject(*rejectUser, *rejectSchool)

	case "resolve":
		if err := parse(resolveCmd, resolveUser); err != nil {
			return err
		}
		return cli.resolve(access.Identity{UID: *resolveUser, Email: *resolveEmail})

	case "token":
		if err := parse(tokenCmd, tokenUser); err != nil {
			return err
		}
		return cli.token(access.Identity{UID: *tokenUser, Email: *tokenEmail, DisplayName: *tokenName})

	default:
		cli.printUsage()
		return errHelp
	}
}
