package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/eloschool/backend/core/access"
	inmemsession "github.com/eloschool/backend/storage/session/inmem"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errNoDevTokens = errors.New("token needs identity.provider=dev")
)

// resolve signs uid in on a throwaway session and prints the resulting snapshot.
// Nothing is persisted in the configured session store.
func (cli *commandLine) resolve(id access.Identity) error {
	ctx := context.Background()
	deps := cli.deps
	deps.Store = inmemsession.NewStore()

	ctrl := access.NewController("admin-resolve", deps)
	snap := ctrl.SignIn(ctx, id)
	defer ctrl.SignOut(ctx)
	return cli.printJSON(snap)
}

func (cli *commandLine) token(id access.Identity) error {
	if cli.tokens == nil {
		return errNoDevTokens
	}
	token, err := cli.tokens.Mint(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}

// printJSON indents the output for humans.
func (cli *commandLine) printJSON(v interface{}) error {
	var data []byte
	var err error
	if f, ok := cli.out.(*os.File); ok && isTerminalFunc(int(f.Fd())) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cli.out, string(data))
	return err
}
