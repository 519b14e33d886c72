package schedule

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// ReadJobList parses a job list: one job name per line, in execution order.
// Blank lines and lines starting with '#' are skipped. Duplicate names and
// empty lists are rejected.
func ReadJobList(r io.Reader) ([]string, error) {
	var jobs []string
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if prev, ok := seen[name]; ok {
			return nil, validationErrorf("job %q listed twice (lines %d and %d)", name, prev, lineNo)
		}
		seen[name] = lineNo
		jobs = append(jobs, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read job list")
	}

	if len(jobs) == 0 {
		return nil, validationErrorf("job list is empty")
	}

	return jobs, nil
}

// ReadJobListFile opens path and parses it with ReadJobList.
func ReadJobListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithHint(
				validationErrorf("file not present: %s", path),
				"job list files are resolved relative to the configured list_dir",
			)
		}
		return nil, errors.Wrapf(err, "open job list %s", path)
	}
	defer f.Close()

	jobs, err := ReadJobList(f)
	if err != nil {
		return nil, errors.Wrapf(err, "job list %s", path)
	}
	return jobs, nil
}
