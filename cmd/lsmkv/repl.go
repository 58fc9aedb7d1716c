package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive put/get/del/flush/compact/stats session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Println("lsmkv repl — put/get/del/flush/compact/stats/quit")
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return nil
				}
				fields := strings.Fields(scanner.Text())
				if len(fields) == 0 {
					continue
				}
				switch fields[0] {
				case "quit", "exit":
					return nil
				case "put", "set":
					if len(fields) != 3 {
						fmt.Println("usage: put <key> <value>")
						continue
					}
					if err := s.Put(fields[1], fields[2]); err != nil {
						fmt.Println("error:", err)
						continue
					}
					fmt.Println("ok")
				case "get":
					if len(fields) != 2 {
						fmt.Println("usage: get <key>")
						continue
					}
					res, err := s.Get(fields[1])
					if err != nil {
						fmt.Println("error:", err)
						continue
					}
					if !res.Found {
						fmt.Println("(not found)")
						continue
					}
					fmt.Println(res.Value)
				case "del", "delete":
					if len(fields) != 2 {
						fmt.Println("usage: del <key>")
						continue
					}
					if err := s.Delete(fields[1]); err != nil {
						fmt.Println("error:", err)
						continue
					}
					fmt.Println("ok")
				case "flush":
					meta, err := s.Flush()
					if err != nil {
						fmt.Println("error:", err)
						continue
					}
					fmt.Printf("flushed run %d (%d entries)\n", meta.SSTableID, meta.NumEntries)
				case "compact":
					meta, err := s.Compact()
					if err != nil {
						fmt.Println("error:", err)
						continue
					}
					fmt.Printf("compacted into run %d (%d entries)\n", meta.SSTableID, meta.NumEntries)
				case "stats":
					st := s.Stats()
					fmt.Printf("active: %d (full=%v), queue: %d/%d, sstables: %d (%d bytes)\n",
						st.ActiveMemtableEntries, st.ActiveMemtableFull,
						st.ImmutableQueueDepth, st.MaxImmutableMemtables,
						st.NumSSTables, st.TotalSSTableSizeBytes)
					for _, l := range st.Levels {
						fmt.Printf("L%d: %d runs, %d entries\n", l.Level, l.NumRuns, l.NumEntries)
					}
				default:
					fmt.Println("unknown command:", fields[0])
				}
			}
		},
	}
}
