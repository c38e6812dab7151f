package flagx

import (
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("d", "", "dsn")
	fs.String("config", "", "config file")
	fs.Bool("i", false, "timestamp immediately")
	return fs
}

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separate value", []string{"-d", "db", "-z", "1"}, []string{"-d", "db"}},
		{"equals form", []string{"-config=alt.json", "-z"}, []string{"-config=alt.json"}},
		{"double dash", []string{"--config", "a.json", "--d=db"}, []string{"--config", "a.json", "--d=db"}},
		{"bool does not eat positional", []string{"-i", "archive.zip", "-d", "db"}, []string{"-i", "-d", "db"}},
		{"bool with explicit value", []string{"-i=false"}, []string{"-i=false"}},
		{"unknown flags ignored", []string{"-x", "1", "--y=2", "positional"}, []string{}},
		{"missing value at end", []string{"-d"}, []string{"-d"}},
		{"value that looks like a flag", []string{"-d", "-i"}, []string{"-d", "-i"}},
		{"terminator and lone dash", []string{"--", "-"}, []string{}},
		{"test binary flags", []string{"-test.v=true", "-test.run", "TestX", "-d", "db"}, []string{"-d", "db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, testFlagSet()))
		})
	}
}

func TestFilterArgs_ParsesCleanly(t *testing.T) {
	fs := testFlagSet()
	args := FilterArgs([]string{"-i", "file.zip", "-x", "-d", "db"}, fs)

	assert.NoError(t, fs.Parse(args))
	assert.Equal(t, "db", fs.Lookup("d").Value.String())
	assert.Equal(t, "true", fs.Lookup("i").Value.String())
	assert.Empty(t, fs.Args())
}

func TestJsonConfigFlags(t *testing.T) {
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short", []string{"bin", "-c", "a.json"}, "a.json"},
		{"long equals", []string{"bin", "-d", "db", "--config=b.json"}, "b.json"},
		{"last wins", []string{"bin", "-c", "a.json", "-config", "b.json"}, "b.json"},
		{"absent", []string{"bin", "-d", "db"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			assert.Equal(t, tt.want, JsonConfigFlags())
		})
	}
}
