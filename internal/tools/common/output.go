package common

import (
	"encoding/json"
	"fmt"
	"os"
)

// CIResult is the machine-readable outcome emitted when a tool runs with --ci.
type CIResult struct {
	OK      bool     `json:"ok"`
	Title   string   `json:"title"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes a single JSON object to stdout describing the run.
func PrintCIResult(ok bool, title string, details []string, err error) {
	res := CIResult{OK: ok, Title: title, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(res)
}

// PrintHumanResult writes a plain-text outcome for interactive runs that
// cannot use the terminal UI.
func PrintHumanResult(ok bool, title string, details []string, err error) {
	status := "OK"
	if !ok {
		status = "FAILED"
	}
	fmt.Printf("%s: %s\n", title, status)
	for _, d := range details {
		fmt.Printf("  %s\n", d)
	}
	if err != nil {
		fmt.Printf("  error: %v\n", err)
	}
}
