// Package flagx lets several components parse their own flags out of the
// same command line without tripping over each other's flags.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigFileFlags are the names the JSON configuration path is given with.
var ConfigFileFlags = []string{"c", "config"}

type boolFlag interface {
	IsBoolFlag() bool
}

// FilterArgs keeps only the arguments that belong to flags defined in fs,
// so that fs.Parse does not fail on flags owned by someone else.
//
// Both "-name value" and "-name=value" forms are kept, with one or two
// leading dashes. Boolean flags never take the following argument as their
// value. Everything else, including positional arguments, is dropped.
func FilterArgs(args []string, fs *flag.FlagSet) []string {
	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		name, hasValue, ok := flagName(args[i])
		if !ok {
			continue
		}
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		filtered = append(filtered, args[i])
		if hasValue || isBool(f) {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// flagName extracts the flag name from "-n", "--n", "-n=v" or "--n=v".
func flagName(arg string) (name string, hasValue, ok bool) {
	if len(arg) < 2 || arg[0] != '-' || arg == "--" {
		return "", false, false
	}
	name = strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
	name, _, hasValue = strings.Cut(name, "=")
	return name, hasValue, name != ""
}

func isBool(f *flag.Flag) bool {
	b, ok := f.Value.(boolFlag)
	return ok && b.IsBoolFlag()
}

// JsonConfigFlags returns the configuration file passed with -c or
// -config, or "" when neither is present.
func JsonConfigFlags() string {
	var config string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	for _, name := range ConfigFileFlags {
		fs.StringVar(&config, name, "", "path to config file")
	}
	_ = fs.Parse(FilterArgs(os.Args[1:], fs))

	return config
}
