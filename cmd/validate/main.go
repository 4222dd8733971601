// Command validate checks the artifacts of a finished GRTS run against each
// other: progress log against the input list, JSON-lines against the JSON
// array and snapshot, and the delimited text against the spreadsheet and
// feather exports. It reads the same environment (and .env file) as the ETL.
//
// Usage:
//
//	go run ./cmd/validate
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/grts-huc-etl/internal/config"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	fmt.Println("=== GRTS Run Artifact Validation ===")
	fmt.Println()

	progress := validateProgress(cfg.InputFile, cfg.ProgressFile, cfg.LineEnding)
	lines, counts := validateJSONLines(cfg.OutputPath(config.SuffixLines))
	phases := []*phase{
		progress,
		lines,
		validateJSONArray(cfg.OutputPath(config.SuffixJSON), counts.responses),
		validateSnapshot(cfg.OutputPath(config.SuffixSnapshot), counts.responses),
		validateDelimited(cfg.OutputPath(config.SuffixCSV), cfg.CSVHeaderFile, cfg.CSVDelimiter, counts.items),
		validateTabular(cfg.OutputPath(config.SuffixXLSX), cfg.OutputPath(config.SuffixFeather), counts.items),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d responses, %d items\n", counts.responses, counts.items)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}
