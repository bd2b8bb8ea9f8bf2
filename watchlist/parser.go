package watchlist

import (
	"bufio"
	"io"
	"os"
	"strings"
)

func parseFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parse(f)
}

// parse reads one address per line. Lines starting with # or ; are comments,
// as is anything after an inline # or ;. Empty lines are skipped. Addresses
// are not validated here, malformed ones fail when resolved.
func parse(r io.Reader) ([]string, error) {
	var addrs []string
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if idx := strings.IndexAny(line, ";#"); idx != -1 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		addrs = append(addrs, line)
	}

	return addrs, scanner.Err()
}
