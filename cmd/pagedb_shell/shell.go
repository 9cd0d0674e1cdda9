package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/indexmanager"
	bufferpool "github.com/sushant-115/pagedb/core/write_engine/buffer_pool"
	flushmanager "github.com/sushant-115/pagedb/core/write_engine/flush_manager"
)

// errExit is returned by processCommand when the user asks to leave.
var errExit = errors.New("exit")

type shell struct {
	manager indexmanager.IndexManager
	pool    *bufferpool.BufferPoolManager
	out     io.Writer
}

// processCommand runs one shell command. Errors from the index layer are
// returned to the caller; usage mistakes are reported on out.
func (s *shell) processCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "create":
		if len(args) < 4 || len(args) > 5 {
			fmt.Fprintln(s.out, "Error: create requires <table> <column> <type> [length].")
			return nil
		}
		columnType, err := btree.ParseColumnType(args[3])
		if err != nil {
			return err
		}
		length := 8
		if len(args) == 5 {
			if length, err = strconv.Atoi(args[4]); err != nil {
				return fmt.Errorf("invalid length %q: %w", args[4], err)
			}
		} else if columnType == btree.ColumnTypeString {
			fmt.Fprintln(s.out, "Error: string columns require a length.")
			return nil
		}
		if err := s.manager.CreateIndex(ctx, args[1], args[2], columnType, length); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Created %s\n", btree.IndexFileName(args[1], args[2]))
	case "open":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Error: open requires <table> <column>.")
			return nil
		}
		if err := s.manager.OpenIndex(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Opened %s\n", btree.IndexFileName(args[1], args[2]))
	case "close":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Error: close requires <table> <column>.")
			return nil
		}
		if err := s.manager.CloseIndex(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Closed %s\n", btree.IndexFileName(args[1], args[2]))
	case "insert":
		if len(args) != 6 {
			fmt.Fprintln(s.out, "Error: insert requires <table> <column> <key> <pageNo> <slotNo>.")
			return nil
		}
		key, err := s.parseKey(args[1], args[2], args[3])
		if err != nil {
			return err
		}
		rid, err := parseRecordID(args[4], args[5])
		if err != nil {
			return err
		}
		if err := s.manager.Put(ctx, args[1], args[2], key, rid); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")
	case "search":
		if len(args) != 4 {
			fmt.Fprintln(s.out, "Error: search requires <table> <column> <key>.")
			return nil
		}
		key, err := s.parseKey(args[1], args[2], args[3])
		if err != nil {
			return err
		}
		rid, err := s.manager.Get(ctx, args[1], args[2], key)
		if errors.Is(err, flushmanager.ErrKeyNotFound) {
			fmt.Fprintln(s.out, "Not found")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Found %s\n", rid)
	case "stats":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Error: stats requires <table> <column>.")
			return nil
		}
		st, err := s.manager.IndexStats(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "column=%s type=%s length=%d slots=%d\n", st.ColumnName, st.ColumnType, st.KeyLength, st.SlotsPerPage)
		fmt.Fprintf(s.out, "root=%d next_empty=%d height=%d leaves=%d internal=%d keys=%d splits=%d\n",
			st.RootPage, st.NextEmptyPage, st.Height, st.LeafPages, st.InternalPages, st.Keys, st.Splits)
	case "dump":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Error: dump requires <table> <column>.")
			return nil
		}
		return s.manager.Dump(ctx, args[1], args[2], s.out)
	case "snapshot":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Error: snapshot requires <table> <column>.")
			return nil
		}
		info, err := s.manager.Snapshot(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Snapshot %s: %s (%d bytes, sha256 %s)\n", info.ID, info.Path, info.Bytes, info.Checksum)
	case "pool":
		st := s.pool.GetStats()
		fmt.Fprintf(s.out, "capacity=%d pinned=%d free=%d resident=%d dirty=%d files=%d\n",
			st.Capacity, st.Pinned, st.Free, st.Resident, st.Dirty, st.OpenFiles)
	case "list":
		for _, name := range s.manager.OpenIndexes() {
			fmt.Fprintln(s.out, name)
		}
	case "help":
		printHelp(s.out)
	case "exit", "quit":
		return errExit
	default:
		fmt.Fprintf(s.out, "Unknown command: %s. Type 'help' for available commands.\n", args[0])
	}
	return nil
}

func (s *shell) parseKey(table, column, text string) ([]byte, error) {
	columnType, length, err := s.manager.ColumnType(table, column)
	if err != nil {
		return nil, err
	}
	return btree.ParseKey(columnType, text, length)
}

func parseRecordID(page, slot string) (btree.RecordID, error) {
	pageNo, err := strconv.ParseInt(page, 10, 64)
	if err != nil {
		return btree.RecordID{}, fmt.Errorf("invalid page number %q: %w", page, err)
	}
	slotNo, err := strconv.ParseInt(slot, 10, 64)
	if err != nil {
		return btree.RecordID{}, fmt.Errorf("invalid slot number %q: %w", slot, err)
	}
	return btree.RecordID{PageNo: pageNo, SlotNo: slotNo}, nil
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Available commands:")
	fmt.Fprintln(w, "  create <table> <column> <int64|double|string> [length]")
	fmt.Fprintln(w, "  open <table> <column>")
	fmt.Fprintln(w, "  close <table> <column>")
	fmt.Fprintln(w, "  insert <table> <column> <key> <pageNo> <slotNo>")
	fmt.Fprintln(w, "  search <table> <column> <key>")
	fmt.Fprintln(w, "  stats <table> <column>")
	fmt.Fprintln(w, "  dump <table> <column>")
	fmt.Fprintln(w, "  snapshot <table> <column>")
	fmt.Fprintln(w, "  pool")
	fmt.Fprintln(w, "  list")
	fmt.Fprintln(w, "  help")
	fmt.Fprintln(w, "  exit")
}
