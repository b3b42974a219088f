// Command questions validates an interview definition and prints the answer
// key derived for every question:
//
//	go run ./cmd/questions -file questions.yaml
//	go run ./cmd/questions -json
//
// Without -file the built-in interview is printed.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/bytedance/sonic"

	"soulagent/interview"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("questions", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "YAML interview definition (default: built-in questions)")
	asJSON := fs.Bool("json", false, "print the questions as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	definition := interview.DefaultDefinition()
	if *file != "" {
		d, err := interview.LoadDefinition(*file)
		if err != nil {
			fmt.Fprintf(stderr, "invalid definition: %v\n", err)
			return 1
		}
		definition = d
	}

	questions := definition.Questions.Questions()
	if *asJSON {
		data, err := sonic.ConfigStd.MarshalIndent(questions, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "marshal: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKEY\tPROMPT")
	for i, q := range questions {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, q.Key, q.Prompt)
	}
	w.Flush()
	return 0
}
