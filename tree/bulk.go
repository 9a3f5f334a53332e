package tree

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Bulk loading from whitespace-separated text files. Spatial records
// are "object x1 .. xd" per line; graph arcs are "from to weight".

// InsertFromFile indexes every record in a text file.
func (t *Tree) InsertFromFile(path string) error {
	return t.processRecords(path, true)
}

// DeleteFromFile removes one occurrence of every key in a text file.
func (t *Tree) DeleteFromFile(path string) error {
	return t.processRecords(path, false)
}

func (t *Tree) processRecords(path string, insert bool) error {
	invariant(t.variant == Spatial, "spatial record file loaded into a graph tree")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open records file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 1+int(t.dims) {
			return fmt.Errorf("%s:%d: expected object id and %d coordinates, got %d fields", path, line, t.dims, len(fields))
		}
		object, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%s:%d: object id: %w", path, line, err)
		}
		key := make([]float32, t.dims)
		for j := range key {
			v, err := strconv.ParseFloat(fields[1+j], 32)
			if err != nil {
				return fmt.Errorf("%s:%d: coordinate %d: %w", path, line, j, err)
			}
			key[j] = float32(v)
		}
		if insert {
			if err := t.Insert(key, object); err != nil {
				return err
			}
		} else if _, err := t.Delete(key); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read records file %s: %w", path, err)
	}
	return nil
}

// InsertArcsFromFile indexes every arc of an edge-list file.
func (t *Tree) InsertArcsFromFile(path string) error {
	return t.processArcs(path, true)
}

// DeleteArcsFromFile removes every arc of an edge-list file.
func (t *Tree) DeleteArcsFromFile(path string) error {
	return t.processArcs(path, false)
}

func (t *Tree) processArcs(path string, insert bool) error {
	invariant(t.variant == Graph, "edge list loaded into a spatial tree")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open edge list %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return fmt.Errorf("%s:%d: expected 'from to weight', got %d fields", path, line, len(fields))
		}
		from, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%s:%d: arc source: %w", path, line, err)
		}
		to, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%s:%d: arc target: %w", path, line, err)
		}
		weight, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return fmt.Errorf("%s:%d: arc weight: %w", path, line, err)
		}
		if insert {
			if err := t.InsertArc(from, to, float32(weight)); err != nil {
				return err
			}
		} else if _, err := t.DeleteArc(from, to); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read edge list %s: %w", path, err)
	}
	return nil
}
