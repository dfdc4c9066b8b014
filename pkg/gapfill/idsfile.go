package gapfill

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseIDs reads "id" or "id,date" lines. Blank lines, # comments and lines whose id
// does not parse are skipped.
func ParseIDs(r io.Reader) ([]Entity, error) {
	var out []Entity
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idPart, datePart, _ := strings.Cut(line, ",")
		id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entity{ID: id, Date: strings.TrimSpace(datePart)})
	}
	return out, sc.Err()
}

// LoadIDsFile parses the missing-ids file at path.
func LoadIDsFile(path string) ([]Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ids file: %w", err)
	}
	defer f.Close()
	return ParseIDs(f)
}
