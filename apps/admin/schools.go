package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/eloschool/backend/core/access"
)

func (cli *commandLine) addSchool(d access.Descriptor) error {
	if err := cli.dir.PutSchool(context.Background(), d); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "school %s saved\n", d.ID)
	return nil
}

func (cli *commandLine) link(uid, schoolID string) error {
	if err := cli.dir.LinkSchool(context.Background(), uid, schoolID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s linked to %s\n", uid, schoolID)
	return nil
}

func (cli *commandLine) unlink(uid, schoolID string) error {
	if err := cli.dir.UnlinkSchool(context.Background(), uid, schoolID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s unlinked from %s\n", uid, schoolID)
	return nil
}

func (cli *commandLine) pending(schoolID string) error {
	list, err := cli.requests.Pending(context.Background(), schoolID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintf(cli.out, "no pending requests for %s\n", schoolID)
		return nil
	}
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tEMAIL\tNAME\tREQUESTED AT")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.UserID, p.Email, p.Nome, p.RequestedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func (cli *commandLine) approve(uid, schoolID, role, by string) error {
	if err := cli.requests.Approve(context.Background(), schoolID, uid, role, by); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s approved for %s as %s\n", uid, schoolID, role)
	return nil
}

func (cli *commandLine) reject(uid, schoolID string) error {
	if err := cli.requests.Reject(context.Background(), schoolID, uid); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s rejected for %s\n", uid, schoolID)
	return nil
}
