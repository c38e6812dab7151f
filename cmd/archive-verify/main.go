// Command archive-verify checks message log archive files offline.
//
//	archive-verify [-k keyring.asc] file1.zip [file2.zip ...]
//
// Every record's hash chain proof is checked against its chain result and
// every chain result against the time-stamp token. When several files of
// one group are given in order, the linking between them is checked too.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/messagelog/internal/cryptox"
	"github.com/dmitrijs2005/messagelog/internal/messagelog/verifier"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, w io.Writer) int {
	fs := flag.NewFlagSet("archive-verify", flag.ContinueOnError)
	fs.SetOutput(w)
	keyring := fs.String("k", "", "armored OpenPGP keyring with the private key of encrypted archives")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(w, "usage: archive-verify [-k keyring] file...")
		return 2
	}

	var passphrases [][]byte
	defer func() {
		for _, p := range passphrases {
			cryptox.Wipe(p)
		}
	}()

	opts := verifier.Options{
		Passphrase: func() ([]byte, error) {
			fmt.Fprint(w, "Enter key passphrase: ")
			pw, err := readPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(w)
			if err != nil {
				return nil, err
			}
			passphrases = append(passphrases, pw)
			return pw, nil
		},
	}
	if *keyring != "" {
		ring, err := cryptox.ReadKeyRing(*keyring)
		if err != nil {
			fmt.Fprintf(w, "keyring: %v\n", err)
			return 1
		}
		opts.KeyRing = ring
	}

	code := 0
	var prev *verifier.Report
	var prevName string
	for _, path := range fs.Args() {
		rep, err := verifier.VerifyFile(path, opts)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", path, err)
			code = 1
			prev = nil
			continue
		}

		for _, f := range rep.Failures {
			fmt.Fprintf(w, "%s: %s: %v\n", path, f.Entry, f.Err)
		}
		if prev != nil {
			if err := verifier.CheckLink(prevName, prev, rep); err != nil {
				fmt.Fprintf(w, "%s: %v\n", path, err)
				code = 1
			}
		}
		if rep.OK() {
			fmt.Fprintf(w, "%s: OK (%d records)\n", path, rep.Records)
		} else {
			code = 1
		}
		prev, prevName = rep, filepath.Base(path)
	}
	return code
}
